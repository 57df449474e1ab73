package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(NewRedisBackend(client), nil), s
}

func TestLocker_AcquireIsExclusive(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	require.True(t, locker.Acquire(ctx, "k", 30*time.Second))
	assert.False(t, locker.Acquire(ctx, "k", 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("lock:k"))

	assert.True(t, locker.Release(ctx, "k"))
	assert.False(t, locker.Release(ctx, "k"))
	assert.True(t, locker.Acquire(ctx, "k", 30*time.Second))
}

func TestLocker_ExpiresOnItsOwn(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	require.True(t, locker.Acquire(ctx, "k", 30*time.Second))
	mr.FastForward(31 * time.Second)
	assert.True(t, locker.Acquire(ctx, "k", 30*time.Second))
}

func TestLocker_WaitForRelease(t *testing.T) {
	locker, _ := newRedisLocker(t)
	ctx := context.Background()

	t.Run("returns true once released", func(t *testing.T) {
		require.True(t, locker.Acquire(ctx, "held", time.Minute))
		go func() {
			time.Sleep(50 * time.Millisecond)
			locker.Release(ctx, "held")
		}()
		assert.True(t, locker.WaitForRelease(ctx, "held", 2*time.Second, 10*time.Millisecond))
	})

	t.Run("gives up after max wait", func(t *testing.T) {
		require.True(t, locker.Acquire(ctx, "stuck", time.Minute))
		start := time.Now()
		assert.False(t, locker.WaitForRelease(ctx, "stuck", 100*time.Millisecond, 10*time.Millisecond))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("returns immediately when free", func(t *testing.T) {
		assert.True(t, locker.WaitForRelease(ctx, "free", time.Second, 10*time.Millisecond))
	})

	t.Run("context cancellation stops waiting", func(t *testing.T) {
		require.True(t, locker.Acquire(ctx, "cancel", time.Minute))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.False(t, locker.WaitForRelease(cctx, "cancel", time.Second, 10*time.Millisecond))
	})
}

func TestLocker_NilBackendIsNoop(t *testing.T) {
	locker := NewLocker(nil, nil)
	ctx := context.Background()
	assert.True(t, locker.Acquire(ctx, "k", time.Second))
	assert.True(t, locker.WaitForRelease(ctx, "k", time.Second, time.Millisecond))
	assert.False(t, locker.Release(ctx, "k"))
}
