package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/agentgate/internal/metrics"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// Config holds configuration for the result cache.
type Config struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    BackendType   `yaml:"backend"`     // none, memory or redis
	Namespace  string        `yaml:"namespace"`   // key prefix
	DefaultTTL time.Duration `yaml:"default_ttl"` // TTL for completed results
	ErrorTTL   time.Duration `yaml:"error_ttl"`   // TTL for failed results
	OpTimeout  time.Duration `yaml:"op_timeout"`  // per-operation backend timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Backend:    BackendMemory,
		Namespace:  DefaultNamespace,
		DefaultTTL: time.Hour,
		ErrorTTL:   time.Minute,
		OpTimeout:  2 * time.Second,
	}
}

// Store provides result caching for agent executions. Every backend failure
// is logged and reported as a miss or a skipped write; the store never
// returns an error to its caller.
type Store struct {
	backend Backend
	config  Config
	logger  *slog.Logger
	label   string

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	errors  atomic.Int64
	cleared atomic.Int64
}

// NewStore creates a result store. A nil backend disables caching.
func NewStore(backend Backend, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.ErrorTTL <= 0 {
		cfg.ErrorTTL = time.Minute
	}
	label := string(cfg.Backend)
	if label == "" {
		label = "unknown"
	}
	return &Store{backend: backend, config: cfg, logger: logger, label: label}
}

// Enabled reports whether a backend is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.backend != nil
}

// Namespace returns the key namespace.
func (s *Store) Namespace() string {
	return s.config.Namespace
}

// Key computes the fingerprint for in within the store's namespace.
func (s *Store) Key(in FingerprintInput) (string, error) {
	return Fingerprint(s.config.Namespace, in)
}

// TTLFor chooses the expiry for a result: an explicit override wins,
// failed results get the short error TTL, everything else the default.
func (s *Store) TTLFor(status types.JobStatus, override *time.Duration) time.Duration {
	if override != nil && *override > 0 {
		return *override
	}
	if status == types.StatusFailed {
		return s.config.ErrorTTL
	}
	return s.config.DefaultTTL
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OpTimeout)
}

// Get returns the cached entry for key. Backend errors and undecodable
// payloads are reported as misses.
func (s *Store) Get(ctx context.Context, key string) (*Entry, bool) {
	if !s.Enabled() {
		return nil, false
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	data, ttl, found, err := s.backend.Get(opCtx, key)
	if err != nil {
		s.errors.Add(1)
		metrics.CacheLookups.WithLabelValues(s.label, "error").Inc()
		s.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		s.misses.Add(1)
		metrics.CacheLookups.WithLabelValues(s.label, "miss").Inc()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.errors.Add(1)
		metrics.CacheLookups.WithLabelValues(s.label, "error").Inc()
		s.logger.Warn("cache entry undecodable", "key", key, "error", err)
		return nil, false
	}

	entry.Fingerprint = key
	entry.TTL = ttl
	s.hits.Add(1)
	metrics.CacheLookups.WithLabelValues(s.label, "hit").Inc()
	return &entry, true
}

// Set stores entry under key. The TTL is chosen by TTLFor. CachedAt is
// filled in when zero. Returns true if the write succeeded.
func (s *Store) Set(ctx context.Context, key string, entry Entry, ttlOverride *time.Duration) bool {
	if !s.Enabled() {
		return false
	}

	if entry.Metadata.CachedAt.IsZero() {
		entry.Metadata.CachedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		s.errors.Add(1)
		s.logger.Warn("cache entry not serializable", "key", key, "error", err)
		return false
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	ttl := s.TTLFor(entry.Status, ttlOverride)
	if err := s.backend.Set(opCtx, key, data, ttl); err != nil {
		s.errors.Add(1)
		metrics.CacheWrites.WithLabelValues(s.label, "error").Inc()
		s.logger.Warn("cache set failed", "key", key, "error", err)
		return false
	}

	s.sets.Add(1)
	metrics.CacheWrites.WithLabelValues(s.label, "ok").Inc()
	s.logger.Debug("cached execution result", "key", key, "status", entry.Status, "ttl", ttl)
	return true
}

// Clear removes every key matching pattern and returns how many were
// deleted. An empty pattern clears all execution entries in the namespace.
func (s *Store) Clear(ctx context.Context, pattern string) int {
	if !s.Enabled() {
		return 0
	}
	if pattern == "" {
		pattern = DefaultClearPattern(s.config.Namespace)
	}

	keys, err := s.backend.Keys(ctx, pattern)
	if err != nil {
		s.errors.Add(1)
		s.logger.Warn("cache scan failed", "pattern", pattern, "error", err)
		return 0
	}

	var deleted int64
	for start := 0; start < len(keys); start += 500 {
		end := min(start+500, len(keys))
		n, err := s.backend.Delete(ctx, keys[start:end]...)
		deleted += n
		if err != nil {
			s.errors.Add(1)
			s.logger.Warn("cache delete failed", "pattern", pattern, "error", err)
			break
		}
	}

	s.cleared.Add(deleted)
	metrics.CacheCleared.WithLabelValues(s.label).Add(float64(deleted))
	s.logger.Info("cache cleared", "pattern", pattern, "deleted", deleted)
	return int(deleted)
}

// Ping checks backend health.
func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	return s.backend.Ping(ctx)
}

// Stats returns cache statistics.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Errors:  s.errors.Load(),
		Cleared: s.cleared.Load(),
	}
}
