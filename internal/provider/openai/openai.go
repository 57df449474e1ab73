// Package openai implements the OpenAI chat completions adapter.
// It serves as the reference implementation for other provider adapters.
package openai

import (
	"context"
	"net/http"
	"strings"

	"github.com/blueberrycongee/agentgate/internal/provider"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultTemperature matches what agents were tuned against.
	DefaultTemperature = 0.7
)

// Adapter implements provider.Adapter for OpenAI.
type Adapter struct {
	apiKey  string
	orgID   string
	baseURL string
	client  *http.Client
}

// New creates an adapter from resolved settings.
func New(s provider.Settings) provider.Adapter {
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		apiKey:  s.APIKey,
		orgID:   s.OrganizationID,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: s.Timeout},
	}
}

// Type returns provider.OpenAI.
func (a *Adapter) Type() provider.Type {
	return provider.OpenAI
}

type message struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	User        string    `json:"user,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Execute sends one chat completion.
func (a *Adapter) Execute(ctx context.Context, req *types.DispatchRequest) *types.DispatchResult {
	if a.apiKey == "" {
		return provider.Fail(req, provider.OpenAI,
			llmerrors.NewAuthenticationError(string(provider.OpenAI), req.Model, "OpenAI API key is not configured"))
	}

	content := req.Message
	body := chatRequest{
		Model:       req.Model,
		Messages:    []message{{Role: "user", Content: &content}},
		Temperature: DefaultTemperature,
		User:        req.UserID,
	}
	httpReq, err := provider.NewJSONRequest(ctx, http.MethodPost, a.baseURL+"/chat/completions", body)
	if err != nil {
		return provider.Fail(req, provider.OpenAI, llmerrors.NewInternalError(string(provider.OpenAI), req.Model, err.Error()))
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if a.orgID != "" {
		httpReq.Header.Set("OpenAI-Organization", a.orgID)
	}

	var resp chatResponse
	if llmErr := provider.DoJSON(a.client, provider.OpenAI, req.Model, httpReq, &resp, mapError); llmErr != nil {
		return provider.Fail(req, provider.OpenAI, llmErr)
	}

	if len(resp.Choices) == 0 {
		return provider.Fail(req, provider.OpenAI,
			llmerrors.NewInternalError(string(provider.OpenAI), req.Model, "No response choices returned from OpenAI API"))
	}

	var text string
	if c := resp.Choices[0].Message.Content; c != nil {
		text = *c
	}
	var usage provider.Usage
	if resp.Usage != nil {
		usage = provider.Usage{
			Input:  provider.IntPtr(resp.Usage.PromptTokens),
			Output: provider.IntPtr(resp.Usage.CompletionTokens),
			Total:  resp.Usage.TotalTokens,
		}
	}
	return provider.Succeed(req, text, usage)
}

func mapError(statusCode int, body []byte) *llmerrors.LLMError {
	return llmerrors.FromStatus(string(provider.OpenAI), "", statusCode, provider.ErrorMessage(body))
}
