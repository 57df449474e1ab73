package observability

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request correlation id.
	RequestIDHeader = "X-Request-ID"
	// ClientIDHeader names the caller the rate limiter accounts against.
	ClientIDHeader = "X-Client-ID"
)

const maxIDLen = 128

type requestIDKey struct{}

type clientIDKey struct{}

// GenerateRequestID generates a new unique request ID.
func GenerateRequestID() string {
	return uuid.NewString()
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// ContextWithClientID adds a client ID to the context.
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey{}, clientID)
}

// ClientIDFromContext extracts the client ID from context.
func ClientIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestIDMiddleware tags each request with a request id, echoing a
// well-formed incoming one, and records the X-Client-ID header when it is
// well-formed.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := sanitizeID(r.Header.Get(RequestIDHeader))
		if !ok {
			requestID = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := ContextWithRequestID(r.Context(), requestID)
		if clientID, ok := sanitizeID(r.Header.Get(ClientIDHeader)); ok {
			ctx = ContextWithClientID(ctx, clientID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sanitizeID(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxIDLen {
		return "", false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':', r == '@':
		default:
			return "", false
		}
	}
	return value, true
}
