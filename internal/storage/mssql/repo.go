// Package mssql implements the upload ledger on Microsoft SQL Server through
// go-mssqldb.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"audiencesync/internal/storage"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// Config holds MSSQL ledger configuration.
type Config struct {
	DSN   string
	Table string // optionally schema-qualified, e.g. "dbo.audiencesync_batches"
}

var dialect = storage.Dialect{
	Name:        "mssql",
	CreateTable: createTableSQL,
	Placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
}

// NewRepository validates the DSN, opens a pool and pings the server.
func NewRepository(ctx context.Context, cfg Config) (*storage.SQLLedger, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql: dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	l, err := storage.NewSQLLedger(db, cfg.Table, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// createTableSQL guards CREATE TABLE with OBJECT_ID; SQL Server has no
// CREATE TABLE IF NOT EXISTS.
func createTableSQL(table string) string {
	return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
	run_id      NVARCHAR(64)  NOT NULL,
	job         NVARCHAR(256) NOT NULL,
	session_id  BIGINT        NOT NULL,
	audience_id NVARCHAR(64)  NOT NULL,
	seq         INT           NOT NULL,
	final_batch BIT           NOT NULL,
	records     INT           NOT NULL,
	status      NVARCHAR(16)  NOT NULL,
	attempts    INT           NOT NULL,
	error_text  NVARCHAR(MAX) NOT NULL DEFAULT N'',
	started_at  DATETIME2     NOT NULL,
	duration_ms BIGINT        NOT NULL,
	CONSTRAINT %s PRIMARY KEY (run_id, seq)
)`, table, msFQN(table), msIdent("pk_"+strings.ReplaceAll(table, ".", "_")))
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "dbo.ledger" to
// [dbo].[ledger].
func msFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = msIdent(p)
	}
	return strings.Join(parts, ".")
}
