package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/provider"
	"github.com/blueberrycongee/agentgate/internal/store"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("default read timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
	if cfg.RateLimit.DefaultRPM != 20 || cfg.RateLimit.DefaultTPM != 50000 {
		t.Errorf("default limits = %d/%d, want 20/50000", cfg.RateLimit.DefaultRPM, cfg.RateLimit.DefaultTPM)
	}
	if cfg.Engine.ChunkSize != 4000 {
		t.Errorf("default chunk size = %d, want 4000", cfg.Engine.ChunkSize)
	}
	if cfg.Cache.Backend != cache.BackendMemory {
		t.Errorf("default cache backend = %s, want memory", cfg.Cache.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "invalid port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "invalid server port"},
		{name: "invalid port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/33"} }, wantErr: "trusted_proxies"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging.level"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "sample rate out of range", mutate: func(c *Config) { c.Tracing.SampleRate = 1.5 }, wantErr: "sample_rate"},
		{name: "unknown cache backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, wantErr: "cache.backend"},
		{name: "unknown rate limit backend", mutate: func(c *Config) { c.RateLimit.Backend = "etcd" }, wantErr: "rate_limit.backend"},
		{name: "zero rpm", mutate: func(c *Config) { c.RateLimit.DefaultRPM = 0 }, wantErr: "default_rpm"},
		{
			name:    "sql limiter without sql store",
			mutate:  func(c *Config) { c.RateLimit.Backend = "sql" },
			wantErr: "needs a postgres or sqlite store",
		},
		{
			name: "redis backend without address",
			mutate: func(c *Config) {
				c.Cache.Backend = cache.BackendRedis
				c.Redis.Addr = ""
			},
			wantErr: "redis address is required",
		},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = store.DriverPostgres }, wantErr: "store.dsn"},
		{name: "unknown store driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "unknown store driver"},
		{name: "overlap not below chunk size", mutate: func(c *Config) { c.Engine.ChunkOverlap = c.Engine.ChunkSize }, wantErr: "chunk_overlap"},
		{name: "missing agents dir", mutate: func(c *Config) { c.Agents.Dir = "" }, wantErr: "agents.dir"},
		{name: "breaker zero threshold", mutate: func(c *Config) { c.Breaker.FailureThreshold = 0 }, wantErr: "provider_breaker thresholds"},
		{name: "breaker disabled skips checks", mutate: func(c *Config) { c.Breaker = provider.BreakerConfig{} }},
		{
			name: "unsupported provider",
			mutate: func(c *Config) {
				c.Providers = map[string]provider.Settings{"Mistral": {APIKey: "k"}}
			},
			wantErr: `unsupported provider "Mistral"`,
		},
		{
			name: "provider alias accepted",
			mutate: func(c *Config) {
				c.Providers = map[string]provider.Settings{"Ollama (local)": {BaseURL: "http://localhost:11434"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidation_ReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Agents.Dir = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"invalid server port", "agents.dir"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml", func(t *testing.T) {
		path := createTempFile(t, `
server:
  port: 9090
  read_timeout: 10s
cache:
  default_ttl: 2h
engine:
  chunk_size: 2000
  max_parallel: 4
providers:
  OpenAI:
    api_key: test-key
    timeout: 45s
  claude:
    api_key: vault://secret/data/llm#anthropic
`)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("port = %d, want 9090", cfg.Server.Port)
		}
		if cfg.Server.ReadTimeout != 10*time.Second {
			t.Errorf("read_timeout = %v, want 10s", cfg.Server.ReadTimeout)
		}
		if cfg.Server.IdleTimeout != 60*time.Second {
			t.Errorf("unset idle_timeout should keep default, got %v", cfg.Server.IdleTimeout)
		}
		if cfg.Cache.DefaultTTL != 2*time.Hour {
			t.Errorf("default_ttl = %v, want 2h", cfg.Cache.DefaultTTL)
		}
		if cfg.Engine.ChunkSize != 2000 || cfg.Engine.MaxParallel != 4 {
			t.Errorf("engine = %+v", cfg.Engine)
		}

		defaults := cfg.ProviderDefaults()
		if len(defaults) != 2 {
			t.Fatalf("provider defaults = %d, want 2", len(defaults))
		}
		if got := defaults[provider.OpenAI]; got.APIKey != "test-key" || got.Timeout != 45*time.Second {
			t.Errorf("openai settings = %+v", got)
		}
		if got := defaults[provider.Claude]; got.APIKey != "vault://secret/data/llm#anthropic" {
			t.Errorf("claude settings = %+v", got)
		}
	})

	t.Run("environment variable expansion", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret-key-123")

		path := createTempFile(t, `
providers:
  openai:
    api_key: ${TEST_API_KEY}
`)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}
		if got := cfg.ProviderDefaults()[provider.OpenAI].APIKey; got != "secret-key-123" {
			t.Errorf("api_key = %s, want secret-key-123", got)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		if _, err := LoadFromFile("/nonexistent/path/config.yaml"); err == nil {
			t.Error("expected error for nonexistent file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := createTempFile(t, `
server:
  port: [invalid
`)
		if _, err := LoadFromFile(path); err == nil {
			t.Error("expected error for invalid yaml")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := createTempFile(t, `
rate_limit:
  backend: etcd
`)
		_, err := LoadFromFile(path)
		if err == nil || !strings.Contains(err.Error(), "validate config") {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestRateLimitDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.DefaultRPM = 5
	cfg.RateLimit.DefaultTPM = 1000

	got := cfg.RateLimitDefaults()
	if got.RPM != 5 || got.TPM != 1000 {
		t.Errorf("RateLimitDefaults() = %+v", got)
	}
}

func TestNeedsRedis(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.NeedsRedis() {
		t.Error("default config should not need redis")
	}
	cfg.RateLimit.Backend = "redis"
	if !cfg.NeedsRedis() {
		t.Error("redis rate limit backend should need redis")
	}
	cfg.RateLimit.Enabled = false
	if cfg.NeedsRedis() {
		t.Error("disabled rate limiter should not need redis")
	}
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
