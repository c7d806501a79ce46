// Package storage defines the upload ledger: one row per settled batch upload,
// written by the pipeline and readable for run history.
//
// Backends (postgres, mssql, mysql, sqlite) register a Factory for their kind
// at init time; import audiencesync/internal/storage/all to enable all of
// them. Callers stay backend-agnostic and go through Repository.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

// DefaultTable is the ledger table used when Config.Table is empty.
const DefaultTable = "audiencesync_batches"

// Batch statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// BatchRecord is one ledger row.
type BatchRecord struct {
	RunID      string
	Job        string
	SessionID  int64
	AudienceID string
	Seq        int
	Final      bool
	Records    int
	Status     string
	Attempts   int
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// Repository is the ledger contract implemented by every backend.
type Repository interface {
	// EnsureSchema creates the ledger table when it does not exist.
	EnsureSchema(ctx context.Context) error
	// RecordBatch appends one row. (RunID, Seq) is unique.
	RecordBatch(ctx context.Context, rec BatchRecord) error
	// ListBatches returns the rows of one run ordered by Seq.
	ListBatches(ctx context.Context, runID string) ([]BatchRecord, error)
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind  string
	DSN   string
	Table string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the Repository registered for cfg.Kind. An empty Table selects
// DefaultTable.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if err := ValidateTable(cfg.Table); err != nil {
		return nil, err
	}
	return f(ctx, cfg)
}

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateTable accepts "table" or "schema.table" made of identifier
// characters. Backends interpolate the name into DDL and DML.
func ValidateTable(name string) error {
	if !tableRe.MatchString(name) {
		return fmt.Errorf("storage: invalid table name %q", name)
	}
	return nil
}
