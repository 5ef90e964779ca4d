// Package storage archives normalized flows in a relational table shaped like
// the dashboard's fii_dii_monthly_data: one row per (date, financial_year),
// upserted so reruns replace amounts instead of duplicating rows.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "fii_dii_monthly_data"

// Config selects and configures a backend.
//
// Kind must match a registered backend ("sqlite", "postgres", "mssql"). DSN
// is passed to the driver unchanged. BatchSize caps rows per statement; zero
// or values above the backend's parameter limit use the backend maximum.
type Config struct {
	Kind      string
	DSN       string
	Table     string
	BatchSize int
}

// TableName returns Table or DefaultTable.
func (c Config) TableName() string {
	if c.Table == "" {
		return DefaultTable
	}
	return c.Table
}

// Repository is the archive sink. Each backend implements the upsert in its
// own dialect (SQLite and Postgres ON CONFLICT, SQL Server MERGE).
type Repository interface {
	// Close releases connections. Call once.
	Close()

	// EnsureTable creates the table and its unique key if missing.
	EnsureTable(ctx context.Context) error

	// Upsert writes rows in one transaction and returns the number of rows
	// inserted or updated as reported by the driver.
	Upsert(ctx context.Context, rows []FlowRow) (int64, error)
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It is called from backend
// init functions and panics on an empty kind, a nil factory or a duplicate.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backends in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
