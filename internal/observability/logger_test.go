package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, cfg LoggerConfig) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return logger, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger_RejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger(LoggerConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNewLogger_Level(t *testing.T) {
	logger, buf := newTestLogger(t, LoggerConfig{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn record should be written")
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	logger, buf := newTestLogger(t, LoggerConfig{Format: "text"})
	logger.Info("hello", "provider", "openai")

	if !strings.Contains(buf.String(), "provider=openai") {
		t.Errorf("expected text output, got %s", buf.String())
	}
}

func TestRedactingHandler(t *testing.T) {
	logger, buf := newTestLogger(t, LoggerConfig{Format: "json", Redact: true})

	logger.Info("calling with sk-1234567890abcdefghijklmnop",
		"api_key", "plain-value",
		"error", errors.New("401 for Bearer abc.def.ghi"),
		slog.Group("request", "url", "https://example.test/v1?key=abc123"),
	)

	out := buf.String()
	for _, leaked := range []string{"sk-1234567890", "plain-value", "abc.def.ghi", "abc123"} {
		if strings.Contains(out, leaked) {
			t.Errorf("secret %q leaked: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "[REDACTED_OPENAI_KEY]") {
		t.Errorf("expected redacted message, got %s", out)
	}
}

func TestRedactingHandler_WithAttrs(t *testing.T) {
	logger, buf := newTestLogger(t, LoggerConfig{Format: "json", Redact: true})

	logger.With("token", "hvs.abcdef").WithGroup("job").Info("done", "id", "j1")

	out := buf.String()
	if strings.Contains(out, "hvs.abcdef") {
		t.Errorf("token leaked: %s", out)
	}
	if !strings.Contains(out, `"job":{"id":"j1"}`) {
		t.Errorf("expected grouped attribute, got %s", out)
	}
}

func TestNewLogger_NoRedaction(t *testing.T) {
	logger, buf := newTestLogger(t, LoggerConfig{Format: "json", Redact: false})
	logger.Info("key sk-1234567890abcdefghijklmnop")

	if !strings.Contains(buf.String(), "sk-1234567890abcdefghijklmnop") {
		t.Error("expected raw output when redaction is off")
	}
}

func TestWithRequestID(t *testing.T) {
	logger, buf := newTestLogger(t, LoggerConfig{Format: "json"})

	ctx := ContextWithRequestID(context.Background(), "test-req-123")
	ctx = ContextWithClientID(ctx, "tenant-a")
	WithRequestID(ctx, logger).Info("test message")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"test-req-123"`) || !strings.Contains(out, `"client_id":"tenant-a"`) {
		t.Errorf("expected ids in output, got %s", out)
	}
}

func TestWithRequestID_Empty(t *testing.T) {
	logger, _ := newTestLogger(t, LoggerConfig{Format: "json"})
	if WithRequestID(context.Background(), logger) != logger {
		t.Error("expected the same logger when no ids are present")
	}
}
