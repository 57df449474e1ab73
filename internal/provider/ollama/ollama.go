// Package ollama implements the adapter for a self-hosted Ollama server
// using its native /api/chat endpoint.
// API Reference: https://github.com/ollama/ollama/blob/main/docs/api.md
package ollama

import (
	"context"
	"net/http"
	"strings"

	"github.com/blueberrycongee/agentgate/internal/provider"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// Adapter implements provider.Adapter for Ollama. Ollama has no API key;
// the server URL is the only required setting.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates an adapter from resolved settings.
func New(s provider.Settings) provider.Adapter {
	baseURL := strings.TrimSuffix(s.BaseURL, "/")
	// Accept URLs pointing at the OpenAI-compatible prefix.
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	return &Adapter{
		baseURL: baseURL,
		apiKey:  s.APIKey,
		client:  &http.Client{Timeout: s.Timeout},
	}
}

// Type returns provider.Ollama.
func (a *Adapter) Type() provider.Type {
	return provider.Ollama
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message         *message `json:"message"`
	Done            bool     `json:"done"`
	PromptEvalCount *int     `json:"prompt_eval_count"`
	EvalCount       *int     `json:"eval_count"`
}

// Execute sends one non-streaming chat call.
func (a *Adapter) Execute(ctx context.Context, req *types.DispatchRequest) *types.DispatchResult {
	if a.baseURL == "" {
		return provider.Fail(req, provider.Ollama,
			llmerrors.NewInvalidRequestError(string(provider.Ollama), req.Model, "Ollama API URL is not configured"))
	}

	body := chatRequest{
		Model:    req.Model,
		Messages: []message{{Role: "user", Content: req.Message}},
		Stream:   false,
	}
	httpReq, err := provider.NewJSONRequest(ctx, http.MethodPost, a.baseURL+"/api/chat", body)
	if err != nil {
		return provider.Fail(req, provider.Ollama, llmerrors.NewInternalError(string(provider.Ollama), req.Model, err.Error()))
	}
	// Reverse proxies in front of Ollama commonly require a bearer token.
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	var resp chatResponse
	if llmErr := provider.DoJSON(a.client, provider.Ollama, req.Model, httpReq, &resp, mapError); llmErr != nil {
		return provider.Fail(req, provider.Ollama, llmErr)
	}

	if resp.Message == nil {
		return provider.Fail(req, provider.Ollama,
			llmerrors.NewInternalError(string(provider.Ollama), req.Model, "No response message returned from Ollama API"))
	}

	usage := provider.Usage{Input: resp.PromptEvalCount, Output: resp.EvalCount}
	return provider.Succeed(req, resp.Message.Content, usage)
}

// mapError handles Ollama's {"error":"..."} bodies. A missing model is
// reported as 404 and is not retryable.
func mapError(statusCode int, body []byte) *llmerrors.LLMError {
	return llmerrors.FromStatus(string(provider.Ollama), "", statusCode, provider.ErrorMessage(body))
}
