package api //nolint:revive // package name is intentional

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/agentgate/internal/agent"
	"github.com/blueberrycongee/agentgate/internal/document"
	"github.com/blueberrycongee/agentgate/internal/engine"
	"github.com/blueberrycongee/agentgate/internal/jobs"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
)

// ErrorResponse is the error envelope every endpoint uses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// toLLMError maps engine and domain errors onto the unified error type.
// Rate limit rejections are handled separately because they carry a
// Retry-After hint.
func toLLMError(err error) *llmerrors.LLMError {
	var llmErr *llmerrors.LLMError
	if errors.As(err, &llmErr) {
		return llmErr
	}
	switch {
	case errors.Is(err, engine.ErrAgentNotFound):
		return llmerrors.NewNotFoundError("", "", err.Error())
	case errors.Is(err, engine.ErrAgentMismatch), errors.Is(err, engine.ErrInvalidRequest), errors.Is(err, agent.ErrInvalidName):
		return llmerrors.NewValidationError("", "", err.Error())
	case errors.Is(err, document.ErrUnsupportedFormat), errors.Is(err, document.ErrNoText), errors.Is(err, document.ErrMalformed):
		return llmerrors.NewValidationError("", "", err.Error())
	case errors.Is(err, jobs.ErrNotFound):
		return llmerrors.NewNotFoundError("", "", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return llmerrors.NewTimeoutError("", "", "request timed out")
	default:
		return llmerrors.NewInternalError("", "", "internal error")
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var limited *llmerrors.RateLimitExceededError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
		writeErrorBody(w, logger, http.StatusTooManyRequests, ErrorDetail{
			Message: limited.Error(),
			Type:    llmerrors.TypeRateLimit,
			Code:    "rate_limit_exceeded",
		})
		return
	}

	llmErr := toLLMError(err)
	status := llmErr.HTTPStatusCode()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "status", status)
	}
	writeErrorBody(w, logger, status, ErrorDetail{
		Message: llmErr.Message,
		Type:    llmErr.Type,
	})
}

func writeErrorBody(w http.ResponseWriter, logger *slog.Logger, status int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: detail}); err != nil {
		logger.Error("failed to encode error response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
