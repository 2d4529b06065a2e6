package auditlog

import (
	"context"
	"os"
	"testing"
)

// newTestSink opens a sink against TX_ORDERER_TEST_DB if set, skipping
// otherwise, since these tests exercise real SQL against Postgres.
func newTestSink(t *testing.T) *Sink {
	t.Helper()
	dsn := os.Getenv("TX_ORDERER_TEST_DB")
	if dsn == "" {
		t.Skip("TX_ORDERER_TEST_DB not set, skipping audit sink tests")
	}
	sink, err := Open(dsn, 5, 2, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sink.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestOpenWithEmptyDSNIsNoop(t *testing.T) {
	sink, err := Open("", 5, 2, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sink != nil {
		t.Fatal("expected nil sink for empty DSN")
	}
	if err := sink.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate on nil sink should be a no-op: %v", err)
	}
	if err := sink.RecordOrderCommitment(context.Background(), "rollup-a", 1, 0, [32]byte{}, false); err != nil {
		t.Fatalf("RecordOrderCommitment on nil sink should be a no-op: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close on nil sink should be a no-op: %v", err)
	}
}

func TestRecordAndQueryBlockCommitment(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	commitment := [32]byte{1, 2, 3}
	if err := sink.RecordBlockCommitment(ctx, "rollup-a", 1, commitment, 3); err != nil {
		t.Fatalf("RecordBlockCommitment: %v", err)
	}
	if err := sink.RecordBlockCommitment(ctx, "rollup-a", 1, commitment, 3); err != nil {
		t.Fatalf("duplicate RecordBlockCommitment should be a no-op, got: %v", err)
	}

	rows, err := sink.RecentBlockCommitments(ctx, "rollup-a", 10)
	if err != nil {
		t.Fatalf("RecentBlockCommitments: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0].Height != 1 || rows[0].TransactionCount != 3 {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}
