// Package cache provides the content-addressed result cache for agent
// executions: fingerprinting, a fail-open store with status-dependent TTLs,
// and an advisory per-fingerprint lock. Redis and in-memory backends are
// supported.
package cache

import (
	"context"
	"time"

	"github.com/blueberrycongee/agentgate/pkg/types"
)

// BackendType represents the type of cache backend.
type BackendType string

const (
	BackendNone   BackendType = "none"   // Caching disabled
	BackendMemory BackendType = "memory" // In-process cache
	BackendRedis  BackendType = "redis"  // Redis cache
)

// Metadata describes where a cached result came from.
type Metadata struct {
	CachedAt  time.Time `json:"cached_at"`
	AgentName string    `json:"agent_name"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
}

// Entry is the payload stored under a fingerprint.
type Entry struct {
	Result   string          `json:"result"`
	Status   types.JobStatus `json:"status"`
	JobID    string          `json:"job_id"`
	Metadata Metadata        `json:"metadata"`

	// Populated on read only.
	Fingerprint string        `json:"-"`
	TTL         time.Duration `json:"-"` // remaining lifetime, zero if unknown
}

// Stats holds cache statistics for monitoring.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Errors  int64 `json:"errors"`
	Cleared int64 `json:"cleared"`
}

// Backend is the key-value capability the store and the lock rely on.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value and its remaining TTL.
	// found is false if the key doesn't exist.
	Get(ctx context.Context, key string) (value []byte, ttl time.Duration, found bool, err error)

	// Set stores value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent. Returns true if stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Keys lists keys matching a glob pattern (* and ?).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping checks if the backend is healthy.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}
