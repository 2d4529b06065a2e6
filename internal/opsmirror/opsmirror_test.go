package opsmirror

import (
	"context"
	"testing"

	"github.com/radiusxyz/tx-orderer/internal/types"
)

func TestDisabledMirrorIsNoop(t *testing.T) {
	m, err := New(context.Background(), false, "", "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cluster := types.Cluster{Platform: "ethereum", ServiceProvider: "eigenlayer", ClusterId: "cluster-a", PlatformBlockHeight: 1}
	if err := m.MirrorCluster(context.Background(), cluster); err != nil {
		t.Fatalf("MirrorCluster on disabled mirror should be a no-op: %v", err)
	}

	meta := types.NewRollupMetadata("rollup-a", 1, 1_000_000)
	if err := m.MirrorRollupHead(context.Background(), meta); err != nil {
		t.Fatalf("MirrorRollupHead on disabled mirror should be a no-op: %v", err)
	}

	if err := m.MirrorBlockFinalized(context.Background(), "rollup-a", 1, [32]byte{}, 0); err != nil {
		t.Fatalf("MirrorBlockFinalized on disabled mirror should be a no-op: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close on disabled mirror should be a no-op: %v", err)
	}
}

func TestEnabledMirrorRequiresProjectID(t *testing.T) {
	if _, err := New(context.Background(), true, "", "", nil); err == nil {
		t.Fatal("expected error when ops mirror is enabled with no project id")
	}
}

func TestAdminAuthNilWhenMirrorDisabled(t *testing.T) {
	m, err := New(context.Background(), false, "", "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	authenticator, err := AdminAuth(context.Background(), m)
	if err != nil {
		t.Fatalf("AdminAuth: %v", err)
	}
	if authenticator != nil {
		t.Fatal("expected nil authenticator for a disabled mirror")
	}

	uid, err := authenticator.Verify(context.Background(), "any-token")
	if err != nil {
		t.Fatalf("Verify on nil authenticator should admit unconditionally: %v", err)
	}
	if uid != "" {
		t.Fatalf("expected empty uid from nil authenticator, got %q", uid)
	}
}
