// Package postgres implements the upload ledger on Postgres using a pgx v5
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"audiencesync/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds Postgres ledger configuration.
type Config struct {
	DSN   string // connection string for pgxpool
	Table string // optionally schema-qualified, e.g. "ops.audiencesync_batches"
}

// Repository is a Postgres-backed storage.Repository.
type Repository struct {
	pool  *pgxpool.Pool
	table string // quoted
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository opens a pool and verifies connectivity.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", wrapPgErr(err))
	}
	return &Repository{pool: pool, table: splitFQN(cfg.Table).Sanitize()}, nil
}

// EnsureSchema implements storage.Repository.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createTableSQL(r.table)); err != nil {
		return fmt.Errorf("postgres: create ledger table: %w", wrapPgErr(err))
	}
	return nil
}

// RecordBatch implements storage.Repository.
func (r *Repository) RecordBatch(ctx context.Context, rec storage.BatchRecord) error {
	if _, err := r.pool.Exec(ctx, insertSQL(r.table), storage.Args(rec)...); err != nil {
		return fmt.Errorf("postgres: record batch %d: %w", rec.Seq, wrapPgErr(err))
	}
	return nil
}

// ListBatches implements storage.Repository.
func (r *Repository) ListBatches(ctx context.Context, runID string) ([]storage.BatchRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE run_id = $1 ORDER BY seq",
		strings.Join(storage.LedgerColumns(), ", "), r.table)
	rows, err := r.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list batches: %w", wrapPgErr(err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.BatchRecord, error) {
		var (
			rec storage.BatchRecord
			ms  int64
		)
		err := row.Scan(
			&rec.RunID, &rec.Job, &rec.SessionID, &rec.AudienceID, &rec.Seq, &rec.Final,
			&rec.Records, &rec.Status, &rec.Attempts, &rec.Error, &rec.StartedAt, &ms,
		)
		rec.Duration = time.Duration(ms) * time.Millisecond
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list batches: %w", wrapPgErr(err))
	}
	return out, nil
}

// Close implements storage.Repository.
func (r *Repository) Close() { r.pool.Close() }

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	job         TEXT        NOT NULL,
	session_id  BIGINT      NOT NULL,
	audience_id TEXT        NOT NULL,
	seq         INTEGER     NOT NULL,
	final_batch BOOLEAN     NOT NULL,
	records     INTEGER     NOT NULL,
	status      TEXT        NOT NULL,
	attempts    INTEGER     NOT NULL,
	error_text  TEXT        NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT      NOT NULL,
	PRIMARY KEY (run_id, seq)
)`, table)
}

func insertSQL(table string) string {
	cols := storage.LedgerColumns()
	marks := make([]string, len(cols))
	for i := range marks {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// wrapPgErr adds the server detail and SQLSTATE to Postgres errors.
func wrapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s, %s)", err, pgErr.Detail, pgErr.SQLState())
	}
	return err
}
