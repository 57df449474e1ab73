package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware returns an HTTP middleware that records request metrics.
// Routes are labelled by their ServeMux pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		route := routeLabel(r)
		HTTPRequestsInFlight.WithLabelValues(route).Inc()
		defer HTTPRequestsInFlight.WithLabelValues(route).Dec()

		next.ServeHTTP(recorder, r)

		// The pattern is only known after the mux has matched.
		route = routeLabel(r)
		HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(recorder.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	// "POST /agent/execute" -> "/agent/execute"
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

const maxModelLabelLen = 64

func sanitizeModelLabel(model string) string {
	modelName := strings.TrimSpace(model)
	if modelName == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(min(len(modelName), maxModelLabelLen))
	for _, r := range modelName {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' || r == '/' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
