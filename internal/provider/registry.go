package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/agentgate/internal/metrics"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// DefaultTimeout is the outbound deadline used when settings leave it unset.
const DefaultTimeout = 120 * time.Second

// Router resolves live configuration for a canonical provider and dispatches
// through its adapter. It never returns a Go error from Dispatch.
type Router struct {
	mu        sync.RWMutex
	factories map[Type]Factory

	source   ConfigSource
	secrets  SecretResolver
	defaults atomic.Pointer[map[Type]Settings]
	logger   *slog.Logger

	breakerCfg BreakerConfig
	breakers   map[Type]*breaker
	now        func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithConfigSource sets the persistence collaborator for active records.
func WithConfigSource(src ConfigSource) RouterOption {
	return func(r *Router) { r.source = src }
}

// WithSecretResolver sets how credential references are resolved.
func WithSecretResolver(res SecretResolver) RouterOption {
	return func(r *Router) {
		if res != nil {
			r.secrets = res
		}
	}
}

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBreaker enables a circuit breaker per provider.
func WithBreaker(cfg BreakerConfig) RouterOption {
	return func(r *Router) { r.breakerCfg = cfg }
}

// WithRouterClock overrides the clock used by circuit breakers.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter creates a router with no adapters registered.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		factories: make(map[Type]Factory),
		secrets:   PlainSecrets{},
		logger:    slog.Default(),
		breakers:  make(map[Type]*breaker),
		now:       time.Now,
	}
	empty := map[Type]Settings{}
	r.defaults.Store(&empty)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs the factory for a canonical provider.
func (r *Router) Register(t Type, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
	if r.breakerCfg.Enabled {
		r.breakers[t] = newBreaker(t, r.breakerCfg, r.now)
	}
}

// BreakerState reports the circuit state for t. Providers without a
// breaker are always closed.
func (r *Router) BreakerState(t Type) BreakerState {
	r.mu.RLock()
	b := r.breakers[t]
	r.mu.RUnlock()
	if b == nil {
		return BreakerClosed
	}
	return b.current()
}

// SetDefaults replaces the process-level fallback settings. Safe to call
// while dispatches are in flight.
func (r *Router) SetDefaults(defaults map[Type]Settings) {
	cp := make(map[Type]Settings, len(defaults))
	for t, s := range defaults {
		cp[t] = s
	}
	r.defaults.Store(&cp)
}

// Resolve returns the live settings for t: the active persisted record when
// one exists, otherwise the process defaults. Credential references are
// resolved before returning.
func (r *Router) Resolve(ctx context.Context, t Type) (Settings, error) {
	settings := (*r.defaults.Load())[t]

	if r.source != nil {
		rec, err := r.source.ActiveProviderConfig(ctx, t)
		if err != nil {
			r.logger.Warn("provider config lookup failed, using defaults", "provider", t, "error", err)
		} else if rec != nil {
			settings.APIKey = rec.APIKey
			settings.OrganizationID = rec.OrganizationID
			if rec.APIURL != "" {
				settings.BaseURL = rec.APIURL
			}
		}
	}

	if settings.APIKey != "" {
		key, err := r.secrets.Resolve(ctx, settings.APIKey)
		if err != nil {
			return settings, fmt.Errorf("resolve %s api key: %w", t, err)
		}
		settings.APIKey = key
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	return settings, nil
}

// Dispatch normalizes rawProvider and executes req through its adapter.
// Unsupported providers and invalid requests fail without any adapter call.
func (r *Router) Dispatch(ctx context.Context, rawProvider string, req *types.DispatchRequest) (result *types.DispatchResult) {
	t, normalized, ok := Normalize(rawProvider)
	if !ok {
		r.logger.Error("unsupported provider", "provider", rawProvider, "normalized", normalized, "job_id", jobID(req))
		return Fail(orEmpty(req), Type(normalized), llmerrors.NewUnsupportedProviderError(rawProvider, normalized))
	}
	if normalized != rawProvider {
		r.logger.Debug("normalized provider", "provider", rawProvider, "canonical", t)
	}

	if invalid := Validate(t, req); invalid != nil {
		return invalid
	}

	r.mu.RLock()
	factory, registered := r.factories[t]
	circuit := r.breakers[t]
	r.mu.RUnlock()
	if !registered {
		return Fail(req, t, llmerrors.NewUnsupportedProviderError(rawProvider, normalized))
	}
	if circuit != nil && !circuit.allow() {
		r.logger.Warn("provider circuit open", "provider", t, "job_id", req.JobID)
		metrics.RecordProviderCall(string(t), req.Model, false, llmerrors.TypeServiceUnavailable, 0)
		return Fail(req, t, llmerrors.NewServiceUnavailableError(string(t), req.Model,
			"provider temporarily disabled after repeated failures"))
	}

	settings, err := r.Resolve(ctx, t)
	if err != nil {
		r.logger.Error("provider configuration unavailable", "provider", t, "error", err)
		return Fail(req, t, llmerrors.NewAuthenticationError(string(t), req.Model, err.Error()))
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("adapter panicked", "provider", t, "job_id", req.JobID, "panic", rec)
			result = Fail(req, t, llmerrors.NewInternalError(string(t), req.Model, fmt.Sprintf("Unexpected error: %v", rec)))
		}
		if circuit != nil {
			circuit.record(result.Success, result.ErrorType)
		}
		metrics.RecordProviderCall(string(t), req.Model, result.Success, result.ErrorType, time.Since(start).Seconds())
		if result.Success {
			metrics.RecordTokens(string(t), req.Model, result.Input(), result.Output())
		}
	}()

	result = factory(settings).Execute(ctx, req)
	if result == nil {
		result = Fail(req, t, llmerrors.NewInternalError(string(t), req.Model, "adapter returned no result"))
	}
	if !result.Success {
		r.logger.Error("provider dispatch failed",
			"provider", t, "model", req.Model, "job_id", req.JobID, "error", result.ErrorMessage)
	} else {
		r.logger.Info("provider dispatch succeeded",
			"provider", t, "model", req.Model, "job_id", req.JobID, "tokens", result.TokensUsed)
	}
	return result
}

// Supported lists the canonical providers with a registered adapter.
func (r *Router) Supported() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.factories))
	for _, t := range Types() {
		if _, ok := r.factories[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func orEmpty(req *types.DispatchRequest) *types.DispatchRequest {
	if req == nil {
		return &types.DispatchRequest{}
	}
	return req
}

func jobID(req *types.DispatchRequest) string {
	if req == nil {
		return ""
	}
	return strings.TrimSpace(req.JobID)
}
