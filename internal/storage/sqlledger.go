package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Dialect describes the SQL differences between database/sql backends.
type Dialect struct {
	// Name prefixes error messages, e.g. "sqlite".
	Name string

	// CreateTable returns the idempotent DDL for the ledger table.
	CreateTable func(table string) string

	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string
}

// QuestionMark is the placeholder style of sqlite and mysql.
func QuestionMark(int) string { return "?" }

// ledgerColumns is the column order of INSERT and SELECT statements.
var ledgerColumns = []string{
	"run_id", "job", "session_id", "audience_id", "seq", "final_batch",
	"records", "status", "attempts", "error_text", "started_at", "duration_ms",
}

// LedgerColumns returns the ledger column names in statement order.
func LedgerColumns() []string {
	return append([]string(nil), ledgerColumns...)
}

// SQLLedger implements Repository over database/sql.
type SQLLedger struct {
	db      *sql.DB
	table   string
	dialect Dialect

	insertSQL string
	selectSQL string
}

// NewSQLLedger wraps an open *sql.DB. The ledger owns db and closes it in
// Close.
func NewSQLLedger(db *sql.DB, table string, d Dialect) (*SQLLedger, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	marks := make([]string, len(ledgerColumns))
	for i := range marks {
		marks[i] = d.Placeholder(i + 1)
	}
	cols := strings.Join(ledgerColumns, ", ")
	return &SQLLedger{
		db:        db,
		table:     table,
		dialect:   d,
		insertSQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, strings.Join(marks, ", ")),
		selectSQL: fmt.Sprintf("SELECT %s FROM %s WHERE run_id = %s ORDER BY seq", cols, table, d.Placeholder(1)),
	}, nil
}

// EnsureSchema implements Repository.
func (l *SQLLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, l.dialect.CreateTable(l.table)); err != nil {
		return fmt.Errorf("%s: create ledger table %s: %w", l.dialect.Name, l.table, err)
	}
	return nil
}

// RecordBatch implements Repository.
func (l *SQLLedger) RecordBatch(ctx context.Context, rec BatchRecord) error {
	if _, err := l.db.ExecContext(ctx, l.insertSQL, Args(rec)...); err != nil {
		return fmt.Errorf("%s: record batch %d: %w", l.dialect.Name, rec.Seq, err)
	}
	return nil
}

// ListBatches implements Repository.
func (l *SQLLedger) ListBatches(ctx context.Context, runID string) ([]BatchRecord, error) {
	rows, err := l.db.QueryContext(ctx, l.selectSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("%s: list batches: %w", l.dialect.Name, err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var (
			rec BatchRecord
			ms  int64
		)
		if err := rows.Scan(
			&rec.RunID, &rec.Job, &rec.SessionID, &rec.AudienceID, &rec.Seq, &rec.Final,
			&rec.Records, &rec.Status, &rec.Attempts, &rec.Error, &rec.StartedAt, &ms,
		); err != nil {
			return nil, fmt.Errorf("%s: scan batch: %w", l.dialect.Name, err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: list batches: %w", l.dialect.Name, err)
	}
	return out, nil
}

// Close implements Repository.
func (l *SQLLedger) Close() { _ = l.db.Close() }

// Args returns rec's values in LedgerColumns order. Timestamps are stored in
// UTC; durations as whole milliseconds.
func Args(rec BatchRecord) []any {
	return []any{
		rec.RunID, rec.Job, rec.SessionID, rec.AudienceID, rec.Seq, rec.Final,
		rec.Records, rec.Status, rec.Attempts, rec.Error, rec.StartedAt.UTC(), rec.Duration.Milliseconds(),
	}
}
