// Package metrics provides Prometheus metrics collection for the agent gateway.
// It tracks executions, provider calls, token usage, cache and lock outcomes,
// rate-limit decisions and job lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "agentgate"
)

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
// Provider calls on long documents routinely take minutes.
var LatencyBuckets = []float64{
	0.005, 0.0125, 0.025, 0.05, 0.1, 0.5,
	1.0, 2.0, 3.0, 5.0, 7.5, 10.0, 15.0,
	20.0, 30.0, 60.0, 120.0, 180.0, 300.0,
}

// =============================================================================
// Execution Metrics
// =============================================================================

var (
	// ExecutionsTotal counts agent executions by final status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of agent executions",
		},
		[]string{"agent", "api_provider", "status"},
	)

	// ExecutionLatency tracks end-to-end execution latency, cache hits included.
	ExecutionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_latency_seconds",
			Help:      "End-to-end agent execution latency",
			Buckets:   LatencyBuckets,
		},
		[]string{"agent", "api_provider", "from_cache"},
	)

	// ChunksProcessed counts document chunks dispatched to providers.
	ChunksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_processed_total",
			Help:      "Total number of document chunks dispatched",
		},
		[]string{"api_provider", "result"}, // result: success, failure
	)

	// DocumentsExtracted counts uploaded documents by format and outcome.
	DocumentsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_extracted_total",
			Help:      "Total number of uploaded documents whose text was extracted",
		},
		[]string{"format", "result"}, // result: success, empty, error
	)
)

// =============================================================================
// Provider Metrics
// =============================================================================

var (
	// ProviderRequests counts provider dispatches.
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider requests",
		},
		[]string{"model", "api_provider", "result"},
	)

	// ProviderFailures counts failed provider requests by unified error type.
	ProviderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Total number of failed provider requests",
		},
		[]string{"api_provider", "error_type"},
	)

	// ProviderLatency tracks provider call latency.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency of a single provider request",
			Buckets:   LatencyBuckets,
		},
		[]string{"model", "api_provider"},
	)

	// InputTokens tracks input tokens reported by providers.
	InputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_tokens_total",
			Help:      "Total input tokens",
		},
		[]string{"model", "api_provider"},
	)

	// OutputTokens tracks output tokens reported by providers.
	OutputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_tokens_total",
			Help:      "Total output tokens",
		},
		[]string{"model", "api_provider"},
	)
)

// RecordProviderCall records metrics for a finished provider dispatch.
func RecordProviderCall(provider, model string, success bool, errorType string, seconds float64) {
	model = sanitizeModelLabel(model)
	result := "success"
	if !success {
		result = "failure"
		if errorType == "" {
			errorType = "unknown"
		}
		ProviderFailures.WithLabelValues(provider, errorType).Inc()
	}
	ProviderRequests.WithLabelValues(model, provider, result).Inc()
	ProviderLatency.WithLabelValues(model, provider).Observe(seconds)
}

// RecordTokens records token usage metrics.
func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	model = sanitizeModelLabel(model)
	if inputTokens > 0 {
		InputTokens.WithLabelValues(model, provider).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		OutputTokens.WithLabelValues(model, provider).Add(float64(outputTokens))
	}
}
