// Package errors defines unified error types for gateway operations.
// All provider-specific failures are mapped to these standard error types
// before they reach the execution engine.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// LLMError represents a standardized error from an LLM provider.
// It contains all necessary information for error handling, logging, and client response.
type LLMError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *LLMError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeValidation         = "validation_error"
	TypeNotFound           = "not_found_error"
	TypeTimeout            = "timeout_error"
	TypeNetwork            = "network_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
	TypeUnsupported        = "unsupported_provider"
)

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
		Provider:   provider,
		Model:      model,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Provider:   provider,
		Model:      model,
	}
}

// NewValidationError reports input rejected before any network call.
func NewValidationError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeValidation,
		Provider:   provider,
		Model:      model,
	}
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusNotFound,
		Message:    message,
		Type:       TypeNotFound,
		Provider:   provider,
		Model:      model,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewNetworkError creates an error for transport failures (502).
func NewNetworkError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeNetwork,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Provider:   provider,
		Model:      model,
	}
}

// NewUnsupportedProviderError is returned by the router for names outside the canonical set.
func NewUnsupportedProviderError(raw, normalized string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusBadRequest,
		Message:    fmt.Sprintf("Unsupported AI provider: %s (normalized to: %s)", raw, normalized),
		Type:       TypeUnsupported,
		Provider:   normalized,
	}
}

// FromStatus maps an upstream HTTP status code onto the unified taxonomy.
func FromStatus(provider, model string, statusCode int, message string) *LLMError {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewAuthenticationError(provider, model, message)
	case http.StatusTooManyRequests:
		return NewRateLimitError(provider, model, message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return NewInvalidRequestError(provider, model, message)
	case http.StatusNotFound:
		return NewNotFoundError(provider, model, message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return NewTimeoutError(provider, model, message)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return NewServiceUnavailableError(provider, model, message)
	default:
		return NewInternalError(provider, model, message)
	}
}

// FromTransport classifies an error returned by http.Client.Do.
func FromTransport(provider, model string, err error) *LLMError {
	var llmErr *LLMError
	if stderrors.As(err, &llmErr) {
		return llmErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(provider, model, "request timed out: "+err.Error())
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(provider, model, "request timed out: "+err.Error())
	}
	return NewNetworkError(provider, model, "connection error: "+err.Error())
}

// RateLimitExceededError is returned when a client exhausted its RPM or TPM budget.
type RateLimitExceededError struct {
	ClientID   string
	Reason     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return e.Reason
}

// RetryAfterSeconds rounds the hint up to whole seconds, never below one.
func (e *RateLimitExceededError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
