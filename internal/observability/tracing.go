// Package observability provides tracing, structured logging with secret
// redaction, and request identity propagation for the gateway.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every gateway span.
const TracerName = "agentgate"

// Span attribute keys.
const (
	AttrAgent        = "agentgate.agent"
	AttrClientID     = "agentgate.client_id"
	AttrJobID        = "agentgate.job_id"
	AttrFromCache    = "agentgate.from_cache"
	AttrChunkIndex   = "agentgate.chunk.index"
	AttrChunkTotal   = "agentgate.chunk.total"
	AttrStatus       = "agentgate.status"
	AttrProvider     = "gen_ai.system"
	AttrModel        = "gen_ai.request.model"
	AttrInputTokens  = "gen_ai.usage.input_tokens"  // #nosec G101 -- attribute key, not a credential.
	AttrOutputTokens = "gen_ai.usage.output_tokens" // #nosec G101 -- attribute key, not a credential.
)

// TracingConfig contains configuration for OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC endpoint
	ServiceName string  `yaml:"service_name"` // service.name resource attribute
	SampleRate  float64 `yaml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `yaml:"insecure"`     // no TLS
}

// DefaultTracingConfig returns sensible defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		Endpoint:    "localhost:4317",
		ServiceName: "agentgate",
		SampleRate:  1.0,
		Insecure:    true,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing sets up OTLP export. When disabled the returned provider
// hands out the global tracer, which is a no-op unless something else
// installed a provider.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = TracerName
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// Tracer returns the tracer instance.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// ExecutionAttributes describes one agent execution.
type ExecutionAttributes struct {
	Agent    string
	Provider string
	Model    string
	ClientID string
	Document bool
}

// StartExecutionSpan opens the root span of an agent execution.
func StartExecutionSpan(ctx context.Context, tracer trace.Tracer, attrs ExecutionAttributes) (context.Context, trace.Span) {
	name := "agent.execute"
	if attrs.Document {
		name = "agent.execute_document"
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrAgent, attrs.Agent),
			attribute.String(AttrProvider, attrs.Provider),
			attribute.String(AttrModel, attrs.Model),
			attribute.String(AttrClientID, attrs.ClientID),
		),
	)
}

// StartChunkSpan opens a span for one document chunk.
func StartChunkSpan(ctx context.Context, tracer trace.Tracer, index, total int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.chunk",
		trace.WithAttributes(
			attribute.Int(AttrChunkIndex, index),
			attribute.Int(AttrChunkTotal, total),
		),
	)
}

// StartDispatchSpan opens a client span around a provider call.
func StartDispatchSpan(ctx context.Context, tracer trace.Tracer, provider, model, jobID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "provider.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrProvider, provider),
			attribute.String(AttrModel, model),
			attribute.String(AttrJobID, jobID),
		),
	)
}

// RecordUsage records token counts on a span.
func RecordUsage(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.Int(AttrInputTokens, inputTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
	)
}

// RecordError marks the span failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordFailure marks the span failed with a message when no Go error exists.
func RecordFailure(span trace.Span, msg string) {
	span.SetStatus(codes.Error, msg)
}
