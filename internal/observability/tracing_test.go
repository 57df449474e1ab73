package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	defer tp.Shutdown(context.Background())

	if tp.Tracer() == nil {
		t.Error("expected non-nil tracer even when disabled")
	}
}

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()

	if cfg.Enabled {
		t.Error("expected Enabled to be false by default")
	}
	if cfg.Endpoint != "localhost:4317" {
		t.Errorf("expected endpoint localhost:4317, got %s", cfg.Endpoint)
	}
	if cfg.ServiceName != "agentgate" {
		t.Errorf("expected service name agentgate, got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func recordingTracer(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec, tp
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestExecutionSpanHierarchy(t *testing.T) {
	rec, tp := recordingTracer(t)
	tracer := tp.Tracer(TracerName)

	ctx, root := StartExecutionSpan(context.Background(), tracer, ExecutionAttributes{
		Agent: "summarizer", Provider: "openai", Model: "gpt-4o", ClientID: "c1", Document: true,
	})
	chunkCtx, chunk := StartChunkSpan(ctx, tracer, 1, 3)
	_, dispatch := StartDispatchSpan(chunkCtx, tracer, "openai", "gpt-4o", "job-1")
	RecordUsage(dispatch, 120, 40)
	dispatch.End()
	chunk.End()
	root.End()

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	d, c, r := spans[0], spans[1], spans[2]
	if r.Name() != "agent.execute_document" {
		t.Errorf("unexpected root span name %q", r.Name())
	}
	if c.Parent().SpanID() != r.SpanContext().SpanID() {
		t.Error("chunk span should be a child of the execution span")
	}
	if d.Parent().SpanID() != c.SpanContext().SpanID() {
		t.Error("dispatch span should be a child of the chunk span")
	}
	if v, ok := attrValue(d.Attributes(), AttrInputTokens); !ok || v.AsInt64() != 120 {
		t.Errorf("expected input tokens 120, got %v", v)
	}
	if v, ok := attrValue(r.Attributes(), AttrAgent); !ok || v.AsString() != "summarizer" {
		t.Errorf("expected agent attribute, got %v", v)
	}
}

func TestRecordError(t *testing.T) {
	rec, tp := recordingTracer(t)
	_, span := tp.Tracer(TracerName).Start(context.Background(), "test")
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	got := rec.Ended()[0]
	if got.Status().Code != codes.Error || got.Status().Description != "boom" {
		t.Errorf("unexpected status %+v", got.Status())
	}
	if len(got.Events()) != 1 {
		t.Errorf("expected one error event, got %d", len(got.Events()))
	}
}

func TestRecordFailure(t *testing.T) {
	rec, tp := recordingTracer(t)
	_, span := tp.Tracer(TracerName).Start(context.Background(), "test")
	RecordFailure(span, "provider rejected request")
	span.End()

	if rec.Ended()[0].Status().Code != codes.Error {
		t.Error("expected error status")
	}
}

func TestTracerProvider_Shutdown(t *testing.T) {
	tp := &TracerProvider{tracer: noop.NewTracerProvider().Tracer("test")}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown should not error with nil provider: %v", err)
	}
}
