// Package store is the persistence collaborator: job records, provider
// configuration records and per-client rate-limit state. Memory, PostgreSQL
// and SQLite implementations are provided.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blueberrycongee/agentgate/internal/jobs"
	"github.com/blueberrycongee/agentgate/internal/provider"
	"github.com/blueberrycongee/agentgate/internal/ratelimit"
)

// ErrNotFound is returned for unknown records. It matches jobs.ErrNotFound.
var ErrNotFound = jobs.ErrNotFound

// Store is everything the engine persists.
type Store interface {
	jobs.Store
	provider.ConfigSource
	ratelimit.StateStore

	// UpsertProviderConfig inserts or replaces a provider record. Saving an
	// active record deactivates every other record of the same type.
	UpsertProviderConfig(ctx context.Context, rec *provider.Record) error

	// ListProviderConfigs returns every record, active ones first.
	ListProviderConfigs(ctx context.Context) ([]provider.Record, error)

	Ping(ctx context.Context) error
	Close() error
}

// Driver selects the implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Config holds persistence settings.
type Config struct {
	Driver Driver `yaml:"driver"`

	// DSN is a lib/pq connection string for postgres or a file path for sqlite.
	DSN string `yaml:"dsn"`

	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverMemory,
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverPostgres:
		return OpenPostgres(ctx, cfg)
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// IsNotFound reports whether err means a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
