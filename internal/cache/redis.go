package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	// Single node configuration
	Addr     string `yaml:"addr"`     // Redis address (e.g., "localhost:6379")
	Password string `yaml:"password"` // Redis password
	DB       int    `yaml:"db"`       // Redis database number

	// Cluster configuration
	ClusterAddrs []string `yaml:"cluster_addrs"`

	// Sentinel configuration
	SentinelAddrs  []string `yaml:"sentinel_addrs"`
	SentinelMaster string   `yaml:"sentinel_master"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
}

// NewRedisClient builds a single-node, cluster or sentinel client from cfg
// and verifies connectivity.
func NewRedisClient(cfg RedisConfig) (goredis.UniversalClient, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	var client goredis.UniversalClient
	switch {
	case len(cfg.ClusterAddrs) > 0:
		client = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	case len(cfg.SentinelAddrs) > 0:
		client = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
		})
	default:
		client = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisBackend implements Backend on top of a go-redis client.
type RedisBackend struct {
	client goredis.UniversalClient
}

// NewRedisBackend wraps an existing client, typically shared with the rate limiter.
func NewRedisBackend(client goredis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Client exposes the underlying client.
func (b *RedisBackend) Client() goredis.UniversalClient {
	return b.client
}

// Get retrieves a value along with its remaining TTL.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	pipe := b.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, 0, false, fmt.Errorf("redis pipeline: %w", err)
	}

	val, err := getCmd.Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("redis get: %w", err)
	}

	// TTL is -1 for keys without expiry and -2 for missing keys.
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return val, ttl, true, nil
}

// Set stores a value with TTL.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SetNX sets a value only if the key doesn't exist.
func (b *RedisBackend) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Exists reports whether key is present.
func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Delete removes keys.
func (b *RedisBackend) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	// Cluster clients reject multi-key DEL across slots.
	if _, ok := b.client.(*goredis.ClusterClient); ok {
		var total int64
		for _, key := range keys {
			n, err := b.client.Del(ctx, key).Result()
			if err != nil {
				return total, fmt.Errorf("redis del: %w", err)
			}
			total += n
		}
		return total, nil
	}
	n, err := b.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

// Keys walks the keyspace with SCAN. KEYS is never used.
func (b *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	if cluster, ok := b.client.(*goredis.ClusterClient); ok {
		var (
			keys []string
			mu   sync.Mutex
		)
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *goredis.Client) error {
			found, err := scanAll(ctx, node, pattern)
			if err != nil {
				return err
			}
			mu.Lock()
			keys = append(keys, found...)
			mu.Unlock()
			return nil
		})
		return keys, err
	}
	return scanAll(ctx, b.client, pattern)
}

func scanAll(ctx context.Context, client goredis.Cmdable, pattern string) ([]string, error) {
	var keys []string
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return keys, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// Ping checks Redis connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
