package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend implements Backend in process using go-cache. It is meant
// for single-replica deployments and tests; lock and cache state are not
// shared across processes.
type MemoryBackend struct {
	items *gocache.Cache
}

// NewMemoryBackend creates an in-memory backend that sweeps expired keys
// every cleanupInterval.
func NewMemoryBackend(cleanupInterval time.Duration) *MemoryBackend {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryBackend{items: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

// Get retrieves a value along with its remaining TTL.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	val, expiresAt, found := m.items.GetWithExpiration(key)
	if !found {
		return nil, 0, false, nil
	}
	data, ok := val.([]byte)
	if !ok {
		return nil, 0, false, nil
	}

	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			return nil, 0, false, nil
		}
	}
	return data, ttl, true, nil
}

// Set stores a value with TTL.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.items.Set(key, value, expiration(ttl))
	return nil
}

// SetNX stores value only if key is absent or expired.
func (m *MemoryBackend) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := m.items.Add(key, value, expiration(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

// Exists reports whether key is present.
func (m *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	_, found := m.items.Get(key)
	return found, nil
}

// Delete removes keys.
func (m *MemoryBackend) Delete(_ context.Context, keys ...string) (int64, error) {
	var n int64
	for _, key := range keys {
		if _, found := m.items.Get(key); found {
			n++
		}
		m.items.Delete(key)
	}
	return n, nil
}

// Keys lists unexpired keys matching pattern.
func (m *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	var keys []string
	for key := range m.items.Items() {
		if globMatch(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Ping always succeeds.
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Close flushes all items.
func (m *MemoryBackend) Close() error {
	m.items.Flush()
	return nil
}

// globMatch implements the subset of Redis glob syntax used by cache
// clearing: '*' matches any run of bytes, '?' a single byte and '\' escapes.
// Unlike path.Match, '*' also crosses '/'.
func globMatch(pattern, s string) bool {
	px, sx := 0, 0
	starPx, starSx := -1, -1
	for sx < len(s) {
		if px < len(pattern) {
			switch c := pattern[px]; c {
			case '*':
				starPx, starSx = px, sx
				px++
				continue
			case '?':
				px++
				sx++
				continue
			case '\\':
				if px+1 < len(pattern) && pattern[px+1] == s[sx] {
					px += 2
					sx++
					continue
				}
			default:
				if c == s[sx] {
					px++
					sx++
					continue
				}
			}
		}
		if starPx >= 0 {
			starSx++
			px, sx = starPx+1, starSx
			continue
		}
		return false
	}
	for px < len(pattern) && pattern[px] == '*' {
		px++
	}
	return px == len(pattern)
}
