// Package ratelimit enforces per-client requests-per-minute and
// tokens-per-minute budgets over a fixed 60 second window.
//
// Every read-modify-write of a client's counters goes through
// StateStore.Mutate, which serializes updates per client in every backend.
// Token budgets are enforced optimistically: actual usage is recorded after
// the provider call completes, so a single large call is admitted and only
// later calls observe the exhausted budget.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/agentgate/internal/metrics"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
)

// Window is the fixed accounting window.
const Window = 60 * time.Second

// Default ceilings applied to clients without explicit limits.
const (
	DefaultRPM = 20
	DefaultTPM = 50000
)

// Limits are the configured ceilings for one client.
type Limits struct {
	RPM int `yaml:"rpm" json:"rpm"`
	TPM int `yaml:"tpm" json:"tpm"`
}

// State is the persisted accounting record for one client.
type State struct {
	ClientID    string    `json:"client_id"`
	RPMLimit    int       `json:"rpm_limit"`
	TPMLimit    int       `json:"tpm_limit"`
	CurrentRPM  int       `json:"current_rpm"`
	CurrentTPM  int       `json:"current_tpm"`
	WindowStart time.Time `json:"window_start"` // zero until the first request
}

// resetIfNeeded starts a new window once the current one is at least Window old.
func (s *State) resetIfNeeded(now time.Time) bool {
	if s.WindowStart.IsZero() || now.Sub(s.WindowStart) >= Window {
		s.CurrentRPM = 0
		s.CurrentTPM = 0
		s.WindowStart = now
		return true
	}
	return false
}

// StateStore persists client state.
type StateStore interface {
	// Mutate loads the state for clientID, creating it from defaults when
	// absent, applies fn and persists the result. Calls for the same client
	// must not interleave. If fn returns an error nothing is persisted.
	Mutate(ctx context.Context, clientID string, defaults Limits, fn func(*State) error) (State, error)
}

// Config holds configuration for the limiter.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	Backend    string `yaml:"backend"` // memory, redis or sql
	DefaultRPM int    `yaml:"default_rpm"`
	DefaultTPM int    `yaml:"default_tpm"`
	FailOpen   bool   `yaml:"fail_open"` // admit requests when the store fails
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Backend:    "memory",
		DefaultRPM: DefaultRPM,
		DefaultTPM: DefaultTPM,
		FailOpen:   true,
	}
}

// Limiter implements the fixed-window admission check.
type Limiter struct {
	store    StateStore
	defaults atomic.Pointer[Limits]
	failOpen bool
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a limiter over store.
func New(store StateStore, cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		failOpen: cfg.FailOpen,
		logger:   slog.Default(),
		now:      time.Now,
	}
	l.SetDefaults(Limits{RPM: cfg.DefaultRPM, TPM: cfg.DefaultTPM})
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetDefaults replaces the ceilings given to clients seen for the first time.
// Existing clients keep their stored limits.
func (l *Limiter) SetDefaults(d Limits) {
	if d.RPM <= 0 {
		d.RPM = DefaultRPM
	}
	if d.TPM <= 0 {
		d.TPM = DefaultTPM
	}
	l.defaults.Store(&d)
}

// Defaults returns the current default ceilings.
func (l *Limiter) Defaults() Limits {
	return *l.defaults.Load()
}

// Allow admits or rejects one request for clientID. estimate is the
// expected token usage; zero skips the token check. Rejections are returned
// as *errors.RateLimitExceededError. Store failures are returned wrapped
// unless the limiter fails open.
func (l *Limiter) Allow(ctx context.Context, clientID string, estimate int) error {
	var denied *llmerrors.RateLimitExceededError
	reason := "ok"

	_, err := l.store.Mutate(ctx, clientID, l.Defaults(), func(s *State) error {
		// Stores may run fn again after a conflict; only the committed
		// attempt decides.
		denied, reason = nil, "ok"
		now := l.now()
		s.resetIfNeeded(now)
		retryAfter := s.WindowStart.Add(Window).Sub(now)

		if s.CurrentRPM >= s.RPMLimit {
			reason = "rpm"
			denied = &llmerrors.RateLimitExceededError{
				ClientID:   clientID,
				Reason:     fmt.Sprintf("Rate limit exceeded: %d/%d requests per minute", s.CurrentRPM, s.RPMLimit),
				RetryAfter: retryAfter,
			}
			return nil
		}
		if estimate > 0 && s.CurrentTPM+estimate > s.TPMLimit {
			reason = "tpm"
			denied = &llmerrors.RateLimitExceededError{
				ClientID:   clientID,
				Reason:     fmt.Sprintf("Token limit exceeded: would use %d/%d tokens per minute", s.CurrentTPM+estimate, s.TPMLimit),
				RetryAfter: retryAfter,
			}
			return nil
		}

		s.CurrentRPM++
		return nil
	})
	if err != nil {
		if l.failOpen {
			metrics.RateLimitDecisions.WithLabelValues("allowed", "fail_open").Inc()
			l.logger.Warn("rate limit store failed, admitting request",
				"client_id", clientID, "error", err)
			return nil
		}
		return fmt.Errorf("rate limit check for %s: %w", clientID, err)
	}

	if denied != nil {
		metrics.RateLimitDecisions.WithLabelValues("denied", reason).Inc()
		l.logger.Warn("rate limit exceeded", "client_id", clientID, "reason", denied.Reason)
		return denied
	}
	metrics.RateLimitDecisions.WithLabelValues("allowed", reason).Inc()
	return nil
}

// RecordTokens adds actual token usage to the current window.
func (l *Limiter) RecordTokens(ctx context.Context, clientID string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	st, err := l.store.Mutate(ctx, clientID, l.Defaults(), func(s *State) error {
		s.CurrentTPM += tokens
		return nil
	})
	if err != nil {
		l.logger.Warn("failed to record token usage", "client_id", clientID, "tokens", tokens, "error", err)
		return fmt.Errorf("record tokens for %s: %w", clientID, err)
	}
	l.logger.Debug("token usage recorded",
		"client_id", clientID,
		"rpm", st.CurrentRPM, "rpm_limit", st.RPMLimit,
		"tpm", st.CurrentTPM, "tpm_limit", st.TPMLimit)
	return nil
}

// State returns the client's counters with any due window reset applied.
func (l *Limiter) State(ctx context.Context, clientID string) (State, error) {
	return l.store.Mutate(ctx, clientID, l.Defaults(), func(s *State) error {
		s.resetIfNeeded(l.now())
		return nil
	})
}

// SetLimits stores explicit ceilings for clientID. Non-positive values keep
// the current ceiling.
func (l *Limiter) SetLimits(ctx context.Context, clientID string, limits Limits) (State, error) {
	return l.store.Mutate(ctx, clientID, l.Defaults(), func(s *State) error {
		if limits.RPM > 0 {
			s.RPMLimit = limits.RPM
		}
		if limits.TPM > 0 {
			s.TPMLimit = limits.TPM
		}
		return nil
	})
}

// EstimateTokens approximates token usage as one token per four characters.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/4)
}
