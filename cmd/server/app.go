package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/agentgate/internal/agent"
	"github.com/blueberrycongee/agentgate/internal/api"
	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/config"
	"github.com/blueberrycongee/agentgate/internal/document"
	"github.com/blueberrycongee/agentgate/internal/engine"
	"github.com/blueberrycongee/agentgate/internal/jobs"
	"github.com/blueberrycongee/agentgate/internal/observability"
	"github.com/blueberrycongee/agentgate/internal/provider"
	"github.com/blueberrycongee/agentgate/internal/provider/providers"
	"github.com/blueberrycongee/agentgate/internal/ratelimit"
	"github.com/blueberrycongee/agentgate/internal/secret"
	"github.com/blueberrycongee/agentgate/internal/store"
)

// app holds every long-lived component of the gateway process.
type app struct {
	logger  *slog.Logger
	tracing *observability.TracerProvider
	store   store.Store
	pool    *store.PoolReporter
	redis   goredis.UniversalClient
	backend cache.Backend
	secrets *secret.Manager
	router  *provider.Router
	limiter *ratelimit.Limiter
	engine  *engine.Engine
	guard   *api.IPGuard
	handler http.Handler
}

type dbProvider interface {
	DB() *sql.DB
}

// buildApp wires the gateway from cfg. On error every component built so
// far is released.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.tracing, err = observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.store, err = store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if db, ok := a.store.(dbProvider); ok {
		a.pool = store.NewPoolReporter(db.DB(), 0, logger)
		a.pool.Start()
	}
	logger.Info("store ready", "driver", cfg.Store.Driver)

	if cfg.NeedsRedis() {
		a.redis, err = cache.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	resultCache, locker := a.buildCache(cfg)

	a.secrets, err = secret.New(cfg.Secrets, logger)
	if err != nil {
		return nil, err
	}

	a.router = provider.NewRouter(
		provider.WithConfigSource(a.store),
		provider.WithSecretResolver(a.secrets),
		provider.WithRouterLogger(logger),
		provider.WithBreaker(cfg.Breaker),
	)
	providers.RegisterAll(a.router)
	a.router.SetDefaults(cfg.ProviderDefaults())

	if cfg.RateLimit.Enabled {
		var states ratelimit.StateStore
		switch cfg.RateLimit.Backend {
		case "redis":
			states = ratelimit.NewRedisStore(a.redis, cfg.Cache.Namespace)
		case "sql":
			states = a.store
		default:
			states = ratelimit.NewMemoryStore()
		}
		a.limiter = ratelimit.New(states, cfg.RateLimit, ratelimit.WithLogger(logger))
		logger.Info("rate limiting enabled",
			"backend", cfg.RateLimit.Backend,
			"default_rpm", cfg.RateLimit.DefaultRPM,
			"default_tpm", cfg.RateLimit.DefaultTPM,
		)
	}

	a.engine = engine.New(engine.Deps{
		Agents:  agent.NewRegistry(cfg.Agents.Dir, logger),
		Router:  a.router,
		Tracker: jobs.NewTracker(a.store, jobs.WithLogger(logger)),
		Cache:   resultCache,
		Locker:  locker,
		Limiter: a.limiter,
	}, cfg.Engine,
		engine.WithLogger(logger),
		engine.WithTracer(a.tracing.Tracer()),
	)

	proxies, invalid := api.ParseProxies(cfg.Server.TrustedProxies)
	for _, value := range invalid {
		logger.Warn("invalid trusted proxy ignored", "value", value)
	}
	if cfg.IPGuard.Enabled {
		a.guard = api.NewIPGuard(cfg.IPGuard, proxies, logger)
	}

	handler := api.NewHandler(a.engine,
		api.WithLogger(logger),
		api.WithTrustedProxies(proxies),
		api.WithMaxBodySize(cfg.Server.MaxBodySize),
		api.WithMaxUploadSize(cfg.Server.MaxUploadSize),
		api.WithExtractor(document.NewExtractor(document.WithLogger(logger))),
	)
	a.handler = api.NewRouter(handler, a.guard)
	return a, nil
}

// buildCache returns the result store and, when locking is enabled, the
// advisory locker over the same backend.
func (a *app) buildCache(cfg *config.Config) (*cache.Store, *cache.Locker) {
	if cfg.Cache.Enabled {
		switch cfg.Cache.Backend {
		case cache.BackendMemory:
			a.backend = cache.NewMemoryBackend(time.Minute)
		case cache.BackendRedis:
			a.backend = cache.NewRedisBackend(a.redis)
		}
	}

	resultCache := cache.NewStore(a.backend, cfg.Cache, a.logger)
	if a.backend == nil {
		a.logger.Info("result cache disabled")
		return resultCache, nil
	}
	a.logger.Info("result cache enabled", "backend", cfg.Cache.Backend, "namespace", cfg.Cache.Namespace)

	if !cfg.Engine.LockEnabled {
		return resultCache, nil
	}
	return resultCache, cache.NewLocker(a.backend, a.logger)
}

// applyConfig pushes hot-reloadable settings into running components.
// Backends, ports and the store need a restart.
func (a *app) applyConfig(cfg *config.Config) {
	a.router.SetDefaults(cfg.ProviderDefaults())
	if a.limiter != nil {
		a.limiter.SetDefaults(cfg.RateLimitDefaults())
	}
	a.secrets.Invalidate()
	a.logger.Info("runtime settings reloaded",
		"providers", len(cfg.Providers),
		"default_rpm", cfg.RateLimit.DefaultRPM,
		"default_tpm", cfg.RateLimit.DefaultTPM,
	)
}

// Close releases every component in reverse build order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.guard != nil {
		a.guard.Close()
	}
	if a.secrets != nil {
		errs = append(errs, a.secrets.Close())
	}
	// A redis backend shares a.redis, which is closed below.
	if _, shared := a.backend.(*cache.RedisBackend); a.backend != nil && !shared {
		errs = append(errs, a.backend.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
