// Package engine orchestrates agent executions: cache lookup, advisory
// locking, rate limiting, job tracking, provider dispatch and chunked
// document processing.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/agentgate/internal/agent"
	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/chunker"
	"github.com/blueberrycongee/agentgate/internal/jobs"
	"github.com/blueberrycongee/agentgate/internal/observability"
	"github.com/blueberrycongee/agentgate/internal/ratelimit"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

var (
	// ErrAgentNotFound is returned when the requested agent has no definition.
	ErrAgentNotFound = agent.ErrNotFound

	// ErrAgentMismatch is returned when the request names a provider or
	// model other than the one the agent is configured for.
	ErrAgentMismatch = agent.ErrMismatch

	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid execution request")
)

// Dispatcher sends one request to a provider. provider.Router satisfies it.
type Dispatcher = chunker.Dispatcher

// AgentSource looks up agent definitions by name.
type AgentSource interface {
	Get(name string) (*agent.Agent, error)
}

// Config tunes execution behavior.
type Config struct {
	ChunkSize    int `yaml:"chunk_size"`    // max characters per dispatched chunk
	ChunkOverlap int `yaml:"chunk_overlap"` // characters repeated between chunks
	MaxParallel  int `yaml:"max_parallel"`  // concurrent chunk dispatches, 1 is sequential

	LockEnabled bool          `yaml:"lock_enabled"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	LockWait    time.Duration `yaml:"lock_wait"`
	LockPoll    time.Duration `yaml:"lock_poll"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    chunker.DefaultSize,
		ChunkOverlap: chunker.DefaultOverlap,
		MaxParallel:  1,
		LockEnabled:  true,
		LockTTL:      30 * time.Second,
		LockWait:     60 * time.Second,
		LockPoll:     500 * time.Millisecond,
	}
}

// Deps are the collaborators an Engine drives. Cache, Locker and Limiter
// may be nil to disable the corresponding stage.
type Deps struct {
	Agents  AgentSource
	Router  Dispatcher
	Tracker *jobs.Tracker
	Cache   *cache.Store
	Locker  *cache.Locker
	Limiter *ratelimit.Limiter
}

// Engine executes agents against providers.
type Engine struct {
	agents  AgentSource
	router  Dispatcher
	tracker *jobs.Tracker
	cache   *cache.Store
	locker  *cache.Locker
	limiter *ratelimit.Limiter
	merger  *chunker.Merger

	config Config
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithClock overrides the time source used for latency metrics.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an engine.
func New(deps Deps, cfg Config, opts ...Option) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = chunker.DefaultOverlap
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}

	e := &Engine{
		agents:  deps.Agents,
		router:  deps.Router,
		tracker: deps.Tracker,
		cache:   deps.Cache,
		locker:  deps.Locker,
		limiter: deps.Limiter,
		config:  cfg,
		tracer:  otel.Tracer(observability.TracerName),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.merger = chunker.NewMerger(e.router, e.logger)
	return e
}

// Job returns a tracked job by id.
func (e *Engine) Job(ctx context.Context, id string) (*types.Job, error) {
	return e.tracker.Get(ctx, id)
}

// ClearCache removes cached results matching pattern.
func (e *Engine) ClearCache(ctx context.Context, pattern string) int {
	return e.cache.Clear(ctx, pattern)
}

// Ready reports whether the cache backend is reachable. A disabled cache
// is always ready.
func (e *Engine) Ready(ctx context.Context) error {
	return e.cache.Ping(ctx)
}
