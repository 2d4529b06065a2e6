// Package auditlog is the optional Postgres sink that records issued order
// commitments and finalized block commitments for operator queries. It never
// sits in the hot path: the core pipeline in internal/ordering and
// internal/buildblock commits to the typed KV store first and reports to
// this sink afterward, best-effort. Grounded on the teacher's
// pkg/database/client.go connection-pooling and embedded-migration shape.
package auditlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Sink wraps a pooled Postgres connection recording audit rows. A nil *Sink
// is a valid no-op sink, so callers can leave auditing disabled without a
// feature flag at every call site.
type Sink struct {
	db     *sql.DB
	logger *log.Logger
}

// Open dials dsn and configures the connection pool. An empty dsn disables
// the sink entirely: Open returns (nil, nil), and every method on a nil
// *Sink is a no-op.
func Open(dsn string, maxOpenConns, maxIdleConns int, logger *log.Logger) (*Sink, error) {
	if dsn == "" {
		return nil, nil
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[auditlog] ", log.LstdFlags)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindAuditSink, "auditlog.Open", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.KindAuditSink, "auditlog.Open", err)
	}

	logger.Printf("audit sink connected (max_open=%d, max_idle=%d)", maxOpenConns, maxIdleConns)
	return &Sink{db: db, logger: logger}, nil
}

// Close releases the pool. A nil *Sink closes cleanly.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, in filename order. A nil *Sink is a no-op.
func (s *Sink) Migrate(ctx context.Context) error {
	if s == nil {
		return nil
	}

	migrations, err := s.readMigrations()
	if err != nil {
		return xerrors.Wrap(xerrors.KindAuditSink, "auditlog.Migrate", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return xerrors.Wrap(xerrors.KindAuditSink, "auditlog.Migrate", err)
		}
		applied = make(map[string]bool)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return xerrors.Wrap(xerrors.KindAuditSink, "auditlog.Migrate", fmt.Errorf("%s: %w", m.version, err))
		}
		s.logger.Printf("applied migration %s", m.version)
	}
	return nil
}

type migration struct {
	version string
	sql     string
}

func (s *Sink) readMigrations() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, migration{version: strings.TrimSuffix(d.Name(), ".sql"), sql: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (s *Sink) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Sink) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordOrderCommitment logs a single issued order commitment. Best-effort:
// callers log but do not fail the request when this returns an error, since
// the typed KV store is already the durable record.
func (s *Sink) RecordOrderCommitment(ctx context.Context, rollupId string, height, order uint64, txHash [32]byte, isEncrypted bool) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_commitments (rollup_id, rollup_block_height, tx_order, tx_hash, is_encrypted, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rollup_id, rollup_block_height, tx_order) DO NOTHING`,
		rollupId, height, order, fmt.Sprintf("%x", txHash), isEncrypted, time.Now())
	if err != nil {
		return xerrors.Wrap(xerrors.KindAuditSink, "auditlog.RecordOrderCommitment", err)
	}
	return nil
}

// RecordBlockCommitment logs a finalized block's Merkle commitment.
func (s *Sink) RecordBlockCommitment(ctx context.Context, rollupId string, height uint64, commitment [32]byte, transactionCount int) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO block_commitments (rollup_id, height, commitment, transaction_count, finalized_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (rollup_id, height) DO NOTHING`,
		rollupId, height, fmt.Sprintf("%x", commitment), transactionCount, time.Now())
	if err != nil {
		return xerrors.Wrap(xerrors.KindAuditSink, "auditlog.RecordBlockCommitment", err)
	}
	return nil
}

// BlockCommitmentRow is one row returned by RecentBlockCommitments.
type BlockCommitmentRow struct {
	RollupId         string
	Height           uint64
	Commitment       string
	TransactionCount int
	FinalizedAt       time.Time
}

// RecentBlockCommitments returns the most recently finalized blocks for a
// rollup, newest first, for an operator-facing query surface.
func (s *Sink) RecentBlockCommitments(ctx context.Context, rollupId string, limit int) ([]BlockCommitmentRow, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT rollup_id, height, commitment, transaction_count, finalized_at
		FROM block_commitments
		WHERE rollup_id = $1
		ORDER BY height DESC
		LIMIT $2`, rollupId, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindAuditSink, "auditlog.RecentBlockCommitments", err)
	}
	defer rows.Close()

	var out []BlockCommitmentRow
	for rows.Next() {
		var r BlockCommitmentRow
		if err := rows.Scan(&r.RollupId, &r.Height, &r.Commitment, &r.TransactionCount, &r.FinalizedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.KindAuditSink, "auditlog.RecentBlockCommitments", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
