// Package sqlite implements the upload ledger on SQLite through the pure-Go
// modernc.org/sqlite driver, so a single binary can keep a local ledger file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"audiencesync/internal/storage"

	_ "modernc.org/sqlite"
)

// Config holds SQLite ledger configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:ledger.db?_pragma=busy_timeout(5000)"
	//   "ledger.db"
	DSN string

	// Table is the ledger table name.
	Table string
}

var dialect = storage.Dialect{
	Name: "sqlite",
	CreateTable: func(table string) string {
		return `CREATE TABLE IF NOT EXISTS ` + table + ` (
	run_id      TEXT     NOT NULL,
	job         TEXT     NOT NULL,
	session_id  INTEGER  NOT NULL,
	audience_id TEXT     NOT NULL,
	seq         INTEGER  NOT NULL,
	final_batch INTEGER  NOT NULL,
	records     INTEGER  NOT NULL,
	status      TEXT     NOT NULL,
	attempts    INTEGER  NOT NULL,
	error_text  TEXT     NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER  NOT NULL,
	PRIMARY KEY (run_id, seq)
)`
	},
	Placeholder: storage.QuestionMark,
}

// NewRepository opens the database, pings it and returns a ledger.
func NewRepository(ctx context.Context, cfg Config) (*storage.SQLLedger, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Batches are recorded by a single goroutine.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	l, err := storage.NewSQLLedger(db, cfg.Table, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}
