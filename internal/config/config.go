// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/agentgate/internal/api"
	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/engine"
	"github.com/blueberrycongee/agentgate/internal/observability"
	"github.com/blueberrycongee/agentgate/internal/provider"
	"github.com/blueberrycongee/agentgate/internal/ratelimit"
	"github.com/blueberrycongee/agentgate/internal/secret"
	"github.com/blueberrycongee/agentgate/internal/store"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig                `yaml:"server"`
	Logging   observability.LoggerConfig  `yaml:"logging"`
	Tracing   observability.TracingConfig `yaml:"tracing"`
	Cache     cache.Config                `yaml:"cache"`
	Redis     cache.RedisConfig           `yaml:"redis"`
	RateLimit ratelimit.Config            `yaml:"rate_limit"`
	IPGuard   api.GuardConfig             `yaml:"ip_guard"`
	Store     store.Config                `yaml:"store"`
	Engine    engine.Config               `yaml:"engine"`
	Secrets   secret.Config               `yaml:"secrets"`
	Agents    AgentsConfig                `yaml:"agents"`
	Breaker   provider.BreakerConfig      `yaml:"provider_breaker"`

	// Providers holds fallback settings keyed by provider name. Any
	// spelling the router accepts ("OpenAI", "claude", "Ollama (local)")
	// may be used. An active persisted record takes precedence.
	Providers map[string]provider.Settings `yaml:"providers"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	MaxUploadSize   int64         `yaml:"max_upload_size"` // multipart PDF/DOCX uploads
	TrustedProxies  []string      `yaml:"trusted_proxies"` // IPs or CIDRs allowed to set X-Forwarded-For
}

// AgentsConfig locates agent definition files.
type AgentsConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     10 * 1024 * 1024,
			MaxUploadSize:   50 * 1024 * 1024,
		},
		Logging:   observability.DefaultLoggerConfig(),
		Tracing:   observability.DefaultTracingConfig(),
		Cache:     cache.DefaultConfig(),
		Redis:     cache.DefaultRedisConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		IPGuard:   api.DefaultGuardConfig(),
		Store:     store.DefaultConfig(),
		Engine:    engine.DefaultConfig(),
		Secrets:   secret.Config{CacheTTL: 5 * time.Minute},
		Agents:    AgentsConfig{Dir: "agents"},
		Breaker:   provider.DefaultBreakerConfig(),
	}
}

// Load parses YAML configuration data on top of DefaultConfig.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads and parses a YAML configuration file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Load(data)
}

// ProviderDefaults returns the provider settings keyed by canonical type.
// Validate guarantees every key normalizes.
func (c *Config) ProviderDefaults() map[provider.Type]provider.Settings {
	out := make(map[provider.Type]provider.Settings, len(c.Providers))
	for name, settings := range c.Providers {
		if t, _, ok := provider.Normalize(name); ok {
			out[t] = settings
		}
	}
	return out
}

// RateLimitDefaults returns the per-client budget applied to clients
// without stored limits.
func (c *Config) RateLimitDefaults() ratelimit.Limits {
	return ratelimit.Limits{RPM: c.RateLimit.DefaultRPM, TPM: c.RateLimit.DefaultTPM}
}

// NeedsRedis reports whether any component is backed by Redis.
func (c *Config) NeedsRedis() bool {
	return (c.Cache.Enabled && c.Cache.Backend == cache.BackendRedis) ||
		(c.RateLimit.Enabled && c.RateLimit.Backend == "redis")
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout cannot be negative")
	}
	if c.Server.MaxBodySize < 0 {
		add("server.max_body_size cannot be negative")
	}
	if c.Server.MaxUploadSize < 0 {
		add("server.max_upload_size cannot be negative")
	}
	if _, invalid := api.ParseProxies(c.Server.TrustedProxies); len(invalid) > 0 {
		add("server.trusted_proxies: invalid entries %v", invalid)
	}

	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		add("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		add("tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		add("tracing.sample_rate must be between 0 and 1")
	}

	switch c.Cache.Backend {
	case cache.BackendNone, cache.BackendMemory, cache.BackendRedis:
	default:
		add("cache.backend must be none, memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.DefaultTTL < 0 || c.Cache.ErrorTTL < 0 {
		add("cache ttls cannot be negative")
	}

	switch c.RateLimit.Backend {
	case "memory", "redis", "sql":
	default:
		add("rate_limit.backend must be memory, redis or sql, got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.DefaultRPM <= 0 || c.RateLimit.DefaultTPM <= 0 {
		add("rate_limit default_rpm and default_tpm must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.Backend == "sql" && c.Store.Driver == store.DriverMemory {
		add("rate_limit.backend sql needs a postgres or sqlite store")
	}

	if c.NeedsRedis() && c.Redis.Addr == "" && len(c.Redis.ClusterAddrs) == 0 && len(c.Redis.SentinelAddrs) == 0 {
		add("redis address is required by the configured cache or rate limit backend")
	}

	switch c.Store.Driver {
	case store.DriverMemory, "":
	case store.DriverPostgres, store.DriverSQLite:
		if c.Store.DSN == "" {
			add("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		add("unknown store driver %q", c.Store.Driver)
	}

	if c.Engine.ChunkSize <= 0 {
		add("engine.chunk_size must be positive")
	}
	if c.Engine.ChunkOverlap < 0 || c.Engine.ChunkOverlap >= c.Engine.ChunkSize {
		add("engine.chunk_overlap must be between 0 and chunk_size")
	}
	if c.Engine.MaxParallel < 0 {
		add("engine.max_parallel cannot be negative")
	}

	if c.Agents.Dir == "" {
		add("agents.dir is required")
	}

	if c.Breaker.Enabled {
		if c.Breaker.FailureThreshold <= 0 || c.Breaker.SuccessThreshold <= 0 || c.Breaker.HalfOpenMaxRequests <= 0 {
			add("provider_breaker thresholds must be positive")
		}
		if c.Breaker.OpenTimeout <= 0 {
			add("provider_breaker.open_timeout must be positive")
		}
	}

	for name, settings := range c.Providers {
		if _, normalized, ok := provider.Normalize(name); !ok {
			add("providers: unsupported provider %q (normalized to %q)", name, normalized)
		}
		if settings.Timeout < 0 {
			add("providers[%s]: timeout cannot be negative", name)
		}
	}

	return errors.Join(errs...)
}
