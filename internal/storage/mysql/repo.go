// Package mysql implements the upload ledger on MySQL through
// go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"audiencesync/internal/storage"

	"github.com/go-sql-driver/mysql"
)

// Config holds MySQL ledger configuration.
type Config struct {
	DSN   string // e.g. "user:pass@tcp(db:3306)/ops"
	Table string
}

var dialect = storage.Dialect{
	Name:        "mysql",
	CreateTable: createTableSQL,
	Placeholder: storage.QuestionMark,
}

// NewRepository opens a pool and pings the server. parseTime is forced on so
// started_at scans into time.Time.
func NewRepository(ctx context.Context, cfg Config) (*storage.SQLLedger, error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	l, err := storage.NewSQLLedger(db, cfg.Table, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func normalizeDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql: dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id      VARCHAR(64)  NOT NULL,
	job         VARCHAR(256) NOT NULL,
	session_id  BIGINT       NOT NULL,
	audience_id VARCHAR(64)  NOT NULL,
	seq         INT          NOT NULL,
	final_batch BOOLEAN      NOT NULL,
	records     INT          NOT NULL,
	status      VARCHAR(16)  NOT NULL,
	attempts    INT          NOT NULL,
	error_text  TEXT         NOT NULL,
	started_at  DATETIME(3)  NOT NULL,
	duration_ms BIGINT       NOT NULL,
	PRIMARY KEY (run_id, seq)
)`, table)
}
