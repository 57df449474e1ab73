package api //nolint:revive // package name is intentional

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/agentgate/internal/metrics"
	"github.com/blueberrycongee/agentgate/internal/observability"
)

// Register mounts the gateway endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /agent/execute", h.Execute)
	mux.HandleFunc("POST /agent/execute-document", h.ExecuteDocument)
	mux.HandleFunc("POST /agent/execute-pdf", h.ExecutePDF)
	mux.HandleFunc("POST /agent/execute-docx", h.ExecuteDOCX)
	mux.HandleFunc("POST /api/{provider}", h.Dispatch)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /cache", h.ClearCache)

	mux.HandleFunc("GET /health/live", h.Live)
	mux.HandleFunc("GET /health/ready", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// NewRouter builds the full HTTP handler: request ids, request metrics,
// the optional per-IP guard and the gateway routes.
func NewRouter(h *Handler, guard *IPGuard) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)

	var handler http.Handler = mux
	if guard != nil {
		handler = guard.Middleware(handler)
	}
	handler = metrics.Middleware(handler)
	return observability.RequestIDMiddleware(handler)
}
