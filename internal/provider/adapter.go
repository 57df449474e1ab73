package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/agentgate/internal/httputil"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// maxErrorBody bounds how much of an upstream error body is read.
const maxErrorBody = 1 << 20

// Validate checks req before any network call. It returns a failed result
// for invalid input and nil when the request may be dispatched.
func Validate(t Type, req *types.DispatchRequest) *types.DispatchResult {
	if req == nil {
		return Fail(&types.DispatchRequest{}, t, llmerrors.NewValidationError(string(t), "", "Request cannot be empty"))
	}
	if strings.TrimSpace(req.Message) == "" {
		return Fail(req, t, llmerrors.NewValidationError(string(t), req.Model, "Content cannot be empty"))
	}
	if strings.TrimSpace(req.Model) == "" {
		return Fail(req, t, llmerrors.NewValidationError(string(t), req.Model, "Model cannot be empty"))
	}
	return nil
}

// FailureMessage renders err for the caller, prefixed with the provider name.
func FailureMessage(t Type, err *llmerrors.LLMError) string {
	name := t.DisplayName()
	switch err.Type {
	case llmerrors.TypeValidation, llmerrors.TypeUnsupported:
		return err.Message
	case llmerrors.TypeAuthentication:
		return fmt.Sprintf("%s API authentication failed: %s", name, err.Message)
	case llmerrors.TypeRateLimit:
		return fmt.Sprintf("%s API rate limit exceeded: %s", name, err.Message)
	case llmerrors.TypeTimeout:
		return fmt.Sprintf("%s API request timed out: %s", name, err.Message)
	case llmerrors.TypeNetwork:
		return fmt.Sprintf("%s API connection error: %s", name, err.Message)
	default:
		return fmt.Sprintf("%s API error: %s", name, err.Message)
	}
}

// Fail builds a failed dispatch result.
func Fail(req *types.DispatchRequest, t Type, err *llmerrors.LLMError) *types.DispatchResult {
	return &types.DispatchResult{
		JobID:        req.JobID,
		UserID:       req.UserID,
		Success:      false,
		ErrorMessage: FailureMessage(t, err),
		ErrorType:    err.Type,
	}
}

// Usage is the token accounting reported by a backend. Nil fields were not
// reported.
type Usage struct {
	Input  *int
	Output *int
	Total  int
}

// Succeed builds a successful dispatch result.
func Succeed(req *types.DispatchRequest, content string, usage Usage) *types.DispatchResult {
	total := usage.Total
	if total == 0 {
		if usage.Input != nil {
			total += *usage.Input
		}
		if usage.Output != nil {
			total += *usage.Output
		}
	}
	return &types.DispatchResult{
		JobID:        req.JobID,
		UserID:       req.UserID,
		Success:      true,
		Content:      content,
		TokensUsed:   total,
		InputTokens:  usage.Input,
		OutputTokens: usage.Output,
	}
}

// IntPtr returns a pointer to v, or nil when v is negative.
func IntPtr(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

// NewJSONRequest creates a request with a JSON encoded body.
func NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// ErrorMapper converts a non-2xx upstream response into an LLMError.
type ErrorMapper func(statusCode int, body []byte) *llmerrors.LLMError

// DoJSON sends httpReq and decodes a successful response into out.
// Transport failures, non-2xx statuses and undecodable bodies are all
// returned as *LLMError.
func DoJSON(client *http.Client, t Type, model string, httpReq *http.Request, out any, mapError ErrorMapper) *llmerrors.LLMError {
	resp, err := client.Do(httpReq)
	if err != nil {
		return llmerrors.FromTransport(string(t), model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := httputil.ReadLimitedBody(resp.Body, maxErrorBody)
		llmErr := mapError(resp.StatusCode, body)
		llmErr.Model = model
		return llmErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return llmerrors.NewInternalError(string(t), model, "invalid response body: "+err.Error())
	}
	return nil
}

// ErrorMessage extracts a human readable message from a JSON error body,
// trying the common {"error":{"message":...}} and {"error":"..."} shapes.
func ErrorMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 512 {
		return text
	}
	return "unknown error"
}
