package secret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/blueberrycongee/agentgate/internal/secret/env"
	"github.com/blueberrycongee/agentgate/internal/secret/vault"
)

// Config selects the enabled schemes.
type Config struct {
	// CacheTTL caches resolved values; zero disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Vault    vault.Config  `yaml:"vault"`
}

// Manager routes references to the provider registered for their scheme.
// It implements provider.SecretResolver.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    *slog.Logger
}

// NewManager creates a manager with no schemes registered.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// New builds a manager from cfg. The env scheme is always available; vault
// is registered when an address is configured.
func New(cfg Config, logger *slog.Logger) (*Manager, error) {
	m := NewManager(logger)
	m.Register("env", m.wrap(env.New(), cfg.CacheTTL))

	if cfg.Vault.Address != "" {
		vp, err := vault.New(cfg.Vault, m.logger)
		if err != nil {
			return nil, fmt.Errorf("init vault secrets: %w", err)
		}
		m.Register("vault", m.wrap(vp, cfg.CacheTTL))
	}
	return m, nil
}

func (m *Manager) wrap(p Provider, ttl time.Duration) Provider {
	if ttl <= 0 {
		return p
	}
	return NewCachedProvider(p, ttl)
}

// Register registers a provider for a scheme such as "vault" or "env".
func (m *Manager) Register(scheme string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = provider
}

// IsReference reports whether value uses the scheme://path form.
func IsReference(value string) bool {
	scheme, _, ok := strings.Cut(value, "://")
	return ok && scheme != "" && !strings.ContainsAny(scheme, " /:")
}

// Resolve returns the secret a reference points to. Values without a
// scheme are returned unchanged.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	if !IsReference(ref) {
		return ref, nil
	}
	scheme, path, _ := strings.Cut(ref, "://")

	m.mu.RLock()
	provider, ok := m.providers[scheme]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no secret provider registered for scheme: %s", scheme)
	}

	val, err := provider.Get(ctx, path)
	if err != nil {
		m.logger.Warn("secret resolution failed", "scheme", scheme, "error", err)
		return "", err
	}
	return val, nil
}

// Invalidate clears every cached value.
func (m *Manager) Invalidate() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if c, ok := p.(*CachedProvider); ok {
			c.Invalidate()
		}
	}
}

// Close closes all registered providers.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for scheme, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", scheme, err))
		}
	}
	return errors.Join(errs...)
}
