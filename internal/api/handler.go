// Package api exposes the execution engine over HTTP.
package api //nolint:revive // package name is intentional

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/document"
	"github.com/blueberrycongee/agentgate/internal/engine"
	"github.com/blueberrycongee/agentgate/internal/httputil"
	"github.com/blueberrycongee/agentgate/internal/observability"
	"github.com/blueberrycongee/agentgate/internal/provider"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// Service is the engine surface the handlers drive. *engine.Engine
// satisfies it.
type Service interface {
	Execute(ctx context.Context, req *types.ExecutionRequest) (*types.ExecutionResult, error)
	ExecuteDocument(ctx context.Context, req *types.ExecutionRequest) (*types.ExecutionResult, error)
	DispatchDirect(ctx context.Context, providerName, clientID string, req *types.DispatchRequest) (*types.DispatchResult, error)
	Job(ctx context.Context, id string) (*types.Job, error)
	ClearCache(ctx context.Context, pattern string) int
	Ready(ctx context.Context) error
}

var _ Service = (*engine.Engine)(nil)

// Handler serves the gateway endpoints.
type Handler struct {
	svc           Service
	logger        *slog.Logger
	proxies       ProxyList
	extractor     *document.Extractor
	maxBodySize   int64
	maxUploadSize int64
	readyTimeout  time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers are used
// to resolve the client IP recorded on jobs.
func WithTrustedProxies(proxies ProxyList) HandlerOption {
	return func(h *Handler) {
		h.proxies = proxies
	}
}

// WithMaxBodySize caps request bodies.
func WithMaxBodySize(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodySize = n
		}
	}
}

// NewHandler creates a handler over svc.
func NewHandler(svc Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:           svc,
		logger:        slog.Default(),
		maxBodySize:   httputil.DefaultMaxBodyBytes,
		maxUploadSize: DefaultMaxUploadBytes,
		readyTimeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.extractor == nil {
		h.extractor = document.NewExtractor(document.WithLogger(h.logger))
	}
	return h
}

// decode reads a bounded JSON body into v.
func (h *Handler) decode(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()

	body, err := httputil.ReadLimitedBody(r.Body, h.maxBodySize)
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		return llmerrors.NewInvalidRequestError("", "", "request body too large")
	}
	if err != nil {
		return llmerrors.NewInvalidRequestError("", "", "failed to read request body")
	}
	if err := cache.UnmarshalNumbers(body, v); err != nil {
		return llmerrors.NewInvalidRequestError("", "", "invalid JSON: "+err.Error())
	}
	return nil
}

func (h *Handler) executionRequest(r *http.Request) (*types.ExecutionRequest, error) {
	req := &types.ExecutionRequest{}
	if err := h.decode(r, req); err != nil {
		return nil, err
	}
	req.ClientID = observability.ClientIDFromContext(r.Context())
	req.ClientIP = h.proxies.ClientIP(r)
	return req, nil
}

// Execute handles POST /agent/execute.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.executionRequest, h.svc.Execute)
}

// ExecuteDocument handles POST /agent/execute-document. The document is
// either the JSON message or, for multipart requests, an uploaded PDF or
// DOCX file.
func (h *Handler) ExecuteDocument(w http.ResponseWriter, r *http.Request) {
	build := h.executionRequest
	if isMultipart(r) {
		build = h.uploadRequest("")
	}
	h.run(w, r, build, h.svc.ExecuteDocument)
}

func (h *Handler) run(
	w http.ResponseWriter,
	r *http.Request,
	build func(*http.Request) (*types.ExecutionRequest, error),
	exec func(context.Context, *types.ExecutionRequest) (*types.ExecutionResult, error),
) {
	logger := observability.WithRequestID(r.Context(), h.logger)

	req, err := build(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	result, err := exec(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrAgentNotFound) {
			err = llmerrors.NewNotFoundError("", "", fmt.Sprintf("Agent '%s' not found", req.AgentName))
		}
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, result)
}

// Dispatch handles POST /api/{provider}: a direct adapter call without an
// agent, cache or job.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequestID(r.Context(), h.logger)

	raw := r.PathValue("provider")
	if _, normalized, ok := provider.Normalize(raw); !ok {
		writeError(w, logger, llmerrors.NewUnsupportedProviderError(raw, normalized))
		return
	}

	req := &types.DispatchRequest{}
	if err := h.decode(r, req); err != nil {
		writeError(w, logger, err)
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, logger, llmerrors.NewValidationError(raw, "", "model is required"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, logger, llmerrors.NewValidationError(raw, req.Model, "message is required"))
		return
	}

	result, err := h.svc.DispatchDirect(r.Context(), raw, observability.ClientIDFromContext(r.Context()), req)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, result)
}

// GetJob handles GET /jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequestID(r.Context(), h.logger)

	job, err := h.svc.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, job)
}

// ClearCacheResponse reports how many entries a clear removed.
type ClearCacheResponse struct {
	Pattern string `json:"pattern,omitempty"`
	Cleared int    `json:"cleared"`
}

// ClearCache handles DELETE /cache. An empty pattern clears every entry
// in the namespace.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequestID(r.Context(), h.logger)

	pattern := r.URL.Query().Get("pattern")
	cleared := h.svc.ClearCache(r.Context(), pattern)
	logger.Info("cache cleared", "pattern", pattern, "cleared", cleared)
	writeJSON(w, logger, http.StatusOK, ClearCacheResponse{Pattern: pattern, Cleared: cleared})
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. It fails when the cache backend is
// configured but unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
	defer cancel()

	if err := h.svc.Ready(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ready"})
}
