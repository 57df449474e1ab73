// Package gemini implements the Google Gemini generateContent adapter.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/agentgate/internal/provider"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the default Gemini API version.
	DefaultAPIVersion = "v1beta"
)

// Adapter implements provider.Adapter for Gemini.
type Adapter struct {
	apiKey     string
	baseURL    string
	apiVersion string
	client     *http.Client
}

// New creates an adapter from resolved settings.
func New(s provider.Settings) provider.Adapter {
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		apiKey:     s.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiVersion: DefaultAPIVersion,
		client:     &http.Client{Timeout: s.Timeout},
	}
}

// Type returns provider.Gemini.
func (a *Adapter) Type() provider.Type {
	return provider.Gemini
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type geminiRequest struct {
	Contents []content `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Execute sends one generateContent call.
func (a *Adapter) Execute(ctx context.Context, req *types.DispatchRequest) *types.DispatchResult {
	if a.apiKey == "" {
		return provider.Fail(req, provider.Gemini,
			llmerrors.NewAuthenticationError(string(provider.Gemini), req.Model, "Gemini API key is not configured"))
	}

	body := geminiRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Message}}}},
	}
	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent",
		a.baseURL, a.apiVersion, url.PathEscape(req.Model))

	httpReq, err := provider.NewJSONRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return provider.Fail(req, provider.Gemini, llmerrors.NewInternalError(string(provider.Gemini), req.Model, err.Error()))
	}
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	var resp geminiResponse
	if llmErr := provider.DoJSON(a.client, provider.Gemini, req.Model, httpReq, &resp, mapError); llmErr != nil {
		return provider.Fail(req, provider.Gemini, llmErr)
	}

	if len(resp.Candidates) == 0 {
		msg := "No response candidates returned from Gemini API"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			msg = "Prompt blocked by Gemini API: " + resp.PromptFeedback.BlockReason
		}
		return provider.Fail(req, provider.Gemini, llmerrors.NewInvalidRequestError(string(provider.Gemini), req.Model, msg))
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	var usage provider.Usage
	if m := resp.UsageMetadata; m != nil {
		usage = provider.Usage{
			Input:  provider.IntPtr(m.PromptTokenCount),
			Output: provider.IntPtr(m.CandidatesTokenCount),
			Total:  m.TotalTokenCount,
		}
	}
	return provider.Succeed(req, text.String(), usage)
}

// mapError handles Google's {"error":{"code","message","status"}} bodies.
// An invalid key is reported as 400 INVALID_ARGUMENT rather than 401.
func mapError(statusCode int, body []byte) *llmerrors.LLMError {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	message := provider.ErrorMessage(body)
	if err := json.Unmarshal(body, &errResp); err == nil {
		if statusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(errResp.Error.Message), "api key") {
			return llmerrors.NewAuthenticationError(string(provider.Gemini), "", message)
		}
		if errResp.Error.Status == "RESOURCE_EXHAUSTED" {
			return llmerrors.NewRateLimitError(string(provider.Gemini), "", message)
		}
	}
	return llmerrors.FromStatus(string(provider.Gemini), "", statusCode, message)
}
