package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_BasicOperations(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	defer b.Close()
	ctx := context.Background()

	t.Run("set and get with ttl", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "k1", []byte("v1"), time.Minute))

		val, ttl, found, err := b.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []byte("v1"), val)
		assert.Greater(t, ttl, 50*time.Second)
	})

	t.Run("missing key", func(t *testing.T) {
		_, _, found, err := b.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("setnx", func(t *testing.T) {
		ok, err := b.SetNX(ctx, "lock", []byte("1"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.SetNX(ctx, "lock", []byte("1"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete counts existing keys", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "d1", []byte("x"), time.Minute))
		n, err := b.Delete(ctx, "d1", "d2")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		exists, err := b.Exists(ctx, "d1")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestMemoryBackend_Expiry(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "short", []byte("x"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, _, found, err := b.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := b.SetNX(ctx, "short", []byte("y"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired keys can be re-acquired")
}

func TestMemoryBackend_KeysGlob(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	ctx := context.Background()

	for _, k := range []string{"ns:v1:agent-exec:a:x", "ns:v1:agent-exec:b/c:y", "other:key"} {
		require.NoError(t, b.Set(ctx, k, []byte("1"), time.Minute))
	}

	keys, err := b.Keys(ctx, "ns:v1:agent-exec:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ns:v1:agent-exec:a:x", "ns:v1:agent-exec:b/c:y"}, keys)
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"a*", "abc", true},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*:h:*", "x:u:y:h:abc", true},
		{`a\*`, "a*", true},
		{`a\*`, "ab", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, globMatch(tt.pattern, tt.s), "%q ~ %q", tt.pattern, tt.s)
	}
}
