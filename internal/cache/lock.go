package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/blueberrycongee/agentgate/internal/metrics"
)

// Locker is an advisory mutual-exclusion hint keyed by cache fingerprint.
// It reduces duplicate provider calls for identical concurrent requests but
// is not a correctness guarantee: locks expire on their own so a crashed
// holder cannot wedge a key.
type Locker struct {
	backend Backend
	logger  *slog.Logger
}

// NewLocker creates a locker. A nil backend makes every operation a no-op
// that reports the lock as free.
func NewLocker(backend Backend, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{backend: backend, logger: logger}
}

// Acquire tries once to take the lock for cacheKey. Backend errors are
// treated as not acquired.
func (l *Locker) Acquire(ctx context.Context, cacheKey string, timeout time.Duration) bool {
	if l == nil || l.backend == nil {
		return true
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ok, err := l.backend.SetNX(ctx, LockKey(cacheKey), []byte("1"), timeout)
	switch {
	case err != nil:
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		l.logger.Warn("lock acquire failed", "key", cacheKey, "error", err)
		return false
	case !ok:
		metrics.LockAcquisitions.WithLabelValues("contended").Inc()
		return false
	default:
		metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
		return true
	}
}

// Release drops the lock for cacheKey. Returns true if a lock was removed.
func (l *Locker) Release(ctx context.Context, cacheKey string) bool {
	if l == nil || l.backend == nil {
		return false
	}
	n, err := l.backend.Delete(ctx, LockKey(cacheKey))
	if err != nil {
		l.logger.Warn("lock release failed", "key", cacheKey, "error", err)
		return false
	}
	return n > 0
}

// WaitForRelease polls until the lock for cacheKey disappears. It returns
// true once the lock is gone and false if maxWait elapsed, the context was
// cancelled, or the backend failed.
func (l *Locker) WaitForRelease(ctx context.Context, cacheKey string, maxWait, poll time.Duration) bool {
	if l == nil || l.backend == nil {
		return true
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	key := LockKey(cacheKey)
	for {
		held, err := l.backend.Exists(ctx, key)
		if err != nil {
			l.logger.Warn("lock poll failed", "key", cacheKey, "error", err)
			return false
		}
		if !held {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}
