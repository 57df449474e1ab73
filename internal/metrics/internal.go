package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Cache Metrics
// =============================================================================

var (
	// CacheLookups counts cache reads by outcome.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total cache lookups",
		},
		[]string{"cache_type", "result"}, // result: hit, miss, error
	)

	// CacheWrites counts cache writes by outcome.
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Total cache writes",
		},
		[]string{"cache_type", "result"}, // result: ok, error
	)

	// CacheCleared counts entries removed by explicit clears.
	CacheCleared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_cleared_total",
			Help:      "Total cache entries removed by clear operations",
		},
		[]string{"cache_type"},
	)

	// LockAcquisitions counts advisory lock attempts.
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Total advisory lock acquisition attempts",
		},
		[]string{"result"}, // result: acquired, contended, error
	)
)

// =============================================================================
// Rate Limit Metrics
// =============================================================================

var (
	// RateLimitDecisions counts admission decisions.
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Total rate limit admission decisions",
		},
		[]string{"decision", "reason"}, // decision: allowed, denied; reason: ok, rpm, tpm, fail_open
	)

	// IPGuardRejections counts requests rejected by the per-IP guard.
	IPGuardRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_guard_rejections_total",
			Help:      "Total requests rejected by the per-IP admission guard",
		},
	)
)

// =============================================================================
// Job Metrics
// =============================================================================

var (
	// JobsTotal counts jobs reaching a terminal status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total jobs by terminal status",
		},
		[]string{"status"},
	)

	// JobDuration tracks the recorded duration of finished jobs.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of finished jobs",
			Buckets:   LatencyBuckets,
		},
	)

	// JobStoreErrors counts failed job store writes.
	JobStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_store_errors_total",
			Help:      "Total job store write failures",
		},
		[]string{"operation"},
	)
)

// =============================================================================
// System Health Metrics
// =============================================================================

var (
	// DBConnections tracks the store's connection pool.
	DBConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections",
			Help:      "Store connection pool size by state",
		},
		[]string{"state"}, // in_use, idle, max_open
	)

	// DBWaitSeconds is the cumulative time spent waiting for a connection.
	DBWaitSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_wait_seconds",
			Help:      "Cumulative time blocked waiting for a store connection",
		},
	)

	// ProviderCircuitState tracks each provider's circuit breaker.
	ProviderCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_circuit_state",
			Help:      "Provider circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)
)

// =============================================================================
// HTTP Server Metrics
// =============================================================================

var (
	// HTTPRequestDuration tracks HTTP request duration by route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestsInFlight tracks currently processing HTTP requests.
	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"route"},
	)
)

// RecordDBPool publishes a connection pool snapshot.
func RecordDBPool(stats sql.DBStats) {
	DBConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	DBConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	DBConnections.WithLabelValues("max_open").Set(float64(stats.MaxOpenConnections))
	DBWaitSeconds.Set(stats.WaitDuration.Seconds())
}
