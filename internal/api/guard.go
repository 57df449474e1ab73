package api //nolint:revive // package name is intentional

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blueberrycongee/agentgate/internal/metrics"
)

// GuardConfig configures the per-IP admission guard. It sits in front of
// the per-client RPM/TPM limiter and only protects the process from
// request floods.
type GuardConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RPM        int           `yaml:"rpm"`
	Burst      int           `yaml:"burst"`
	CleanupTTL time.Duration `yaml:"cleanup_ttl"`
}

// DefaultGuardConfig returns sensible defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Enabled:    true,
		RPM:        600,
		Burst:      50,
		CleanupTTL: 10 * time.Minute,
	}
}

// IPGuard rate limits requests per caller IP with token buckets.
type IPGuard struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	limit      rate.Limit
	burst      int
	cleanupTTL time.Duration
	proxies    ProxyList
	logger     *slog.Logger
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewIPGuard creates a guard and starts its idle-bucket cleanup loop.
// Call Close to stop the loop.
func NewIPGuard(cfg GuardConfig, proxies ProxyList, logger *slog.Logger) *IPGuard {
	if cfg.RPM <= 0 {
		cfg.RPM = DefaultGuardConfig().RPM
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, cfg.RPM/6)
	}
	if cfg.CleanupTTL <= 0 {
		cfg.CleanupTTL = DefaultGuardConfig().CleanupTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &IPGuard{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		limit:      rate.Limit(float64(cfg.RPM) / 60.0),
		burst:      cfg.Burst,
		cleanupTTL: cfg.CleanupTTL,
		proxies:    proxies,
		logger:     logger,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go g.cleanupLoop()
	return g
}

// Allow reports whether ip may make another request now.
func (g *IPGuard) Allow(ip string) bool {
	g.mu.Lock()
	now := g.now()
	lim, ok := g.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(g.limit, g.burst)
		g.limiters[ip] = lim
	}
	g.lastAccess[ip] = now
	g.mu.Unlock()

	return lim.AllowN(now, 1)
}

// retryAfter is the wait until one more token is available.
func (g *IPGuard) retryAfter() int {
	return max(1, int(math.Ceil(1/float64(g.limit))))
}

// Middleware rejects requests from IPs that exhausted their bucket.
func (g *IPGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := g.proxies.ClientIP(r)
		if ip == "" || g.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}
		metrics.IPGuardRejections.Inc()
		g.logger.Warn("ip guard rejected request", "client_ip", ip, "path", r.URL.Path)
		w.Header().Set("Retry-After", strconv.Itoa(g.retryAfter()))
		writeErrorBody(w, g.logger, http.StatusTooManyRequests, ErrorDetail{
			Message: "rate limit exceeded",
			Type:    "rate_limit_error",
			Code:    "ip_rate_limited",
		})
	})
}

// Close stops the cleanup loop.
func (g *IPGuard) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *IPGuard) cleanupLoop() {
	ticker := time.NewTicker(g.cleanupTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.cleanup()
		}
	}
}

func (g *IPGuard) cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for ip, last := range g.lastAccess {
		if now.Sub(last) > g.cleanupTTL {
			delete(g.limiters, ip)
			delete(g.lastAccess, ip)
		}
	}
}

// size returns the number of tracked IPs.
func (g *IPGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}
