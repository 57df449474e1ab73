package provider

import (
	"sync"
	"time"

	"github.com/blueberrycongee/agentgate/internal/metrics"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
)

// BreakerState is the state of a provider circuit.
type BreakerState int

const (
	// BreakerClosed lets dispatches through.
	BreakerClosed BreakerState = iota
	// BreakerOpen fails dispatches without calling the backend.
	BreakerOpen
	// BreakerHalfOpen lets a few probe dispatches through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// FailureThreshold is the number of consecutive backend failures that
	// opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold is the number of half-open successes that close it.
	SuccessThreshold int `yaml:"success_threshold"`

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// HalfOpenMaxRequests caps concurrent probes.
	HalfOpenMaxRequests int `yaml:"half_open_max_requests"`
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:             true,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// tripsBreaker reports whether a failed dispatch says the backend itself is
// unhealthy. Caller mistakes and quota errors never open the circuit.
func tripsBreaker(errorType string) bool {
	switch errorType {
	case llmerrors.TypeNetwork, llmerrors.TypeTimeout,
		llmerrors.TypeServiceUnavailable, llmerrors.TypeInternalError:
		return true
	default:
		return false
	}
}

type breaker struct {
	mu       sync.Mutex
	provider Type
	cfg      BreakerConfig
	now      func() time.Time

	state     BreakerState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

func newBreaker(t Type, cfg BreakerConfig, now func() time.Time) *breaker {
	b := &breaker{provider: t, cfg: cfg, now: now}
	metrics.ProviderCircuitState.WithLabelValues(string(t)).Set(float64(BreakerClosed))
	return b
}

// allow reports whether a dispatch may reach the backend.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.transition(BreakerHalfOpen)
		b.probes = 1
		return true
	case BreakerHalfOpen:
		if b.probes >= b.cfg.HalfOpenMaxRequests {
			return false
		}
		b.probes++
		return true
	default:
		return true
	}
}

// record feeds a dispatch outcome back into the circuit.
func (b *breaker) record(success bool, errorType string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !success && !tripsBreaker(errorType) {
		// The backend answered; only release a half-open probe slot.
		if b.state == BreakerHalfOpen && b.probes > 0 {
			b.probes--
		}
		return
	}

	switch b.state {
	case BreakerClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case BreakerHalfOpen:
		if b.probes > 0 {
			b.probes--
		}
		if !success {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(BreakerClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *breaker) open() {
	b.transition(BreakerOpen)
	b.openedAt = b.now()
	b.successes = 0
	b.probes = 0
}

func (b *breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.state = to
	metrics.ProviderCircuitState.WithLabelValues(string(b.provider)).Set(float64(to))
}

func (b *breaker) current() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
