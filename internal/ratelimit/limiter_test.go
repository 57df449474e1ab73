package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLimiter(store StateStore, clock *fakeClock, rpm, tpm int) *Limiter {
	cfg := DefaultConfig()
	cfg.DefaultRPM = rpm
	cfg.DefaultTPM = tpm
	cfg.FailOpen = false
	return New(store, cfg, WithClock(clock.Now), WithLogger(discardLogger()))
}

func stores(t *testing.T) map[string]StateStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]StateStore{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, "test"),
	}
}

func TestLimiter_RPMWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			limiter := newTestLimiter(store, clock, 3, 1000)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				require.NoError(t, limiter.Allow(ctx, "client-a", 0), "request %d", i+1)
			}

			err := limiter.Allow(ctx, "client-a", 0)
			var rle *llmerrors.RateLimitExceededError
			require.ErrorAs(t, err, &rle)
			assert.Equal(t, "Rate limit exceeded: 3/3 requests per minute", rle.Reason)
			assert.Equal(t, Window, rle.RetryAfter)

			clock.Advance(45 * time.Second)
			err = limiter.Allow(ctx, "client-a", 0)
			require.ErrorAs(t, err, &rle)
			assert.Equal(t, 15*time.Second, rle.RetryAfter)
			assert.Equal(t, 15, rle.RetryAfterSeconds())

			// Other clients are independent.
			require.NoError(t, limiter.Allow(ctx, "client-b", 0))

			clock.Advance(15 * time.Second)
			st, err := limiter.State(ctx, "client-a")
			require.NoError(t, err)
			assert.Equal(t, 0, st.CurrentRPM)
			assert.Equal(t, 0, st.CurrentTPM)

			require.NoError(t, limiter.Allow(ctx, "client-a", 0))
			st, err = limiter.State(ctx, "client-a")
			require.NoError(t, err)
			assert.Equal(t, 1, st.CurrentRPM)
		})
	}
}

func TestLimiter_TPMIsOptimistic(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			limiter := newTestLimiter(store, clock, 100, 1000)
			ctx := context.Background()

			// No estimate: a request is admitted even though it will blow the budget.
			require.NoError(t, limiter.Allow(ctx, "c", 0))
			require.NoError(t, limiter.RecordTokens(ctx, "c", 5000))

			// Without an estimate only RPM is checked.
			require.NoError(t, limiter.Allow(ctx, "c", 0))

			// With an estimate the exhausted budget rejects.
			err := limiter.Allow(ctx, "c", 10)
			var rle *llmerrors.RateLimitExceededError
			require.ErrorAs(t, err, &rle)
			assert.Contains(t, rle.Reason, "Token limit exceeded: would use 5010/1000")

			st, err := limiter.State(ctx, "c")
			require.NoError(t, err)
			assert.Equal(t, 2, st.CurrentRPM, "rejected requests are not counted")
			assert.Equal(t, 5000, st.CurrentTPM)
		})
	}
}

func TestLimiter_SetLimits(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			limiter := newTestLimiter(store, clock, 1, 1000)
			ctx := context.Background()

			st, err := limiter.SetLimits(ctx, "vip", Limits{RPM: 2})
			require.NoError(t, err)
			assert.Equal(t, 2, st.RPMLimit)
			assert.Equal(t, 1000, st.TPMLimit)

			require.NoError(t, limiter.Allow(ctx, "vip", 0))
			require.NoError(t, limiter.Allow(ctx, "vip", 0))
			assert.Error(t, limiter.Allow(ctx, "vip", 0))

			// Changing defaults does not touch clients already stored.
			limiter.SetDefaults(Limits{RPM: 50, TPM: 10})
			st, err = limiter.State(ctx, "vip")
			require.NoError(t, err)
			assert.Equal(t, 2, st.RPMLimit)

			st, err = limiter.State(ctx, "newcomer")
			require.NoError(t, err)
			assert.Equal(t, 50, st.RPMLimit)
		})
	}
}

func TestLimiter_ConcurrentRequestsDoNotLoseUpdates(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(NewMemoryStore(), clock, 20, 1_000_000)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow(ctx, "burst", 0) == nil {
				allowed.Add(1)
			}
			_ = limiter.RecordTokens(ctx, "burst", 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), allowed.Load())
	st, err := limiter.State(ctx, "burst")
	require.NoError(t, err)
	assert.Equal(t, 20, st.CurrentRPM)
	assert.Equal(t, 100, st.CurrentTPM)
}

type failingStore struct{}

func (failingStore) Mutate(context.Context, string, Limits, func(*State) error) (State, error) {
	return State{}, errors.New("store down")
}

func TestLimiter_FailOpen(t *testing.T) {
	ctx := context.Background()

	open := New(failingStore{}, DefaultConfig(), WithLogger(discardLogger()))
	assert.NoError(t, open.Allow(ctx, "c", 0))

	cfg := DefaultConfig()
	cfg.FailOpen = false
	closed := New(failingStore{}, cfg, WithLogger(discardLogger()))
	err := closed.Allow(ctx, "c", 0)
	require.Error(t, err)
	var rle *llmerrors.RateLimitExceededError
	assert.False(t, errors.As(err, &rle))
}

// retryingStore runs fn against a stale snapshot first and then against
// the committed state, as RedisStore does after a WATCH conflict.
type retryingStore struct {
	stale     State
	committed State
}

func (r *retryingStore) Mutate(_ context.Context, _ string, _ Limits, fn func(*State) error) (State, error) {
	first := r.stale
	if err := fn(&first); err != nil {
		return State{}, err
	}
	if err := fn(&r.committed); err != nil {
		return State{}, err
	}
	return r.committed, nil
}

func TestLimiter_RetriedMutateReportsCommittedOutcome(t *testing.T) {
	clock := newFakeClock()
	store := &retryingStore{
		stale:     State{RPMLimit: 1, TPMLimit: 100, CurrentRPM: 1, WindowStart: clock.Now()},
		committed: State{RPMLimit: 1, TPMLimit: 100},
	}
	limiter := newTestLimiter(store, clock, 1, 100)

	require.NoError(t, limiter.Allow(context.Background(), "c1", 0))
	assert.Equal(t, 1, store.committed.CurrentRPM)

	// The reverse: an admitted first attempt must not leak past a full retry.
	store.stale = State{RPMLimit: 1, TPMLimit: 100}
	err := limiter.Allow(context.Background(), "c1", 0)
	var rle *llmerrors.RateLimitExceededError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 1, store.committed.CurrentRPM)
}

func TestRedisStore_PersistsHash(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "ns")
	clock := newFakeClock()
	limiter := newTestLimiter(store, clock, 5, 100)

	require.NoError(t, limiter.Allow(context.Background(), "c1", 0))
	assert.Equal(t, "1", mr.HGet("ns:ratelimit:{c1}", "current_rpm"))
	assert.Equal(t, "5", mr.HGet("ns:ratelimit:{c1}", "rpm_limit"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}
