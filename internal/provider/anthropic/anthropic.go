// Package anthropic implements the Claude Messages API adapter.
package anthropic

import (
	"context"
	"net/http"
	"strings"

	"github.com/blueberrycongee/agentgate/internal/provider"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the default Anthropic API version.
	DefaultAPIVersion = "2023-06-01"

	// DefaultMaxTokens caps response length when settings leave it unset.
	DefaultMaxTokens = 1000
)

// Adapter implements provider.Adapter for Claude.
type Adapter struct {
	apiKey     string
	baseURL    string
	apiVersion string
	maxTokens  int
	client     *http.Client
}

// New creates an adapter from resolved settings.
func New(s provider.Settings) provider.Adapter {
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Adapter{
		apiKey:     s.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiVersion: DefaultAPIVersion,
		maxTokens:  maxTokens,
		client:     &http.Client{Timeout: s.Timeout},
	}
}

// Type returns provider.Claude.
func (a *Adapter) Type() provider.Type {
	return provider.Claude
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type metadata struct {
	UserID string `json:"user_id,omitempty"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Metadata  *metadata          `json:"metadata,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content []contentBlock `json:"content"`
	Usage   *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Execute sends one Messages API call.
func (a *Adapter) Execute(ctx context.Context, req *types.DispatchRequest) *types.DispatchResult {
	if a.apiKey == "" {
		return provider.Fail(req, provider.Claude,
			llmerrors.NewAuthenticationError(string(provider.Claude), req.Model, "Claude API key is not configured"))
	}

	body := anthropicRequest{
		Model:     req.Model,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Message}},
		MaxTokens: a.maxTokens,
	}
	if req.UserID != "" {
		body.Metadata = &metadata{UserID: req.UserID}
	}

	httpReq, err := provider.NewJSONRequest(ctx, http.MethodPost, a.baseURL+"/v1/messages", body)
	if err != nil {
		return provider.Fail(req, provider.Claude, llmerrors.NewInternalError(string(provider.Claude), req.Model, err.Error()))
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.apiVersion)

	var resp anthropicResponse
	if llmErr := provider.DoJSON(a.client, provider.Claude, req.Model, httpReq, &resp, mapError); llmErr != nil {
		return provider.Fail(req, provider.Claude, llmErr)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if len(resp.Content) == 0 {
		return provider.Fail(req, provider.Claude,
			llmerrors.NewInternalError(string(provider.Claude), req.Model, "No content returned from Claude API"))
	}

	var usage provider.Usage
	if resp.Usage != nil {
		usage = provider.Usage{
			Input:  provider.IntPtr(resp.Usage.InputTokens),
			Output: provider.IntPtr(resp.Usage.OutputTokens),
		}
	}
	return provider.Succeed(req, text.String(), usage)
}

// mapError handles Anthropic's {"type":"error","error":{"type":...}} bodies.
// overloaded_error arrives as 529, which has no standard mapping.
func mapError(statusCode int, body []byte) *llmerrors.LLMError {
	message := provider.ErrorMessage(body)
	if statusCode == 529 {
		return llmerrors.NewServiceUnavailableError(string(provider.Claude), "", message)
	}
	return llmerrors.FromStatus(string(provider.Claude), "", statusCode, message)
}
