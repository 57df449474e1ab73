package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/agentgate/internal/provider"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

func TestExecute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("x-goog-api-key = %q", got)
		}
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "hi" {
			t.Errorf("unexpected contents: %+v", req.Contents)
		}

		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "a"}, {"text": "b"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 2, "totalTokenCount": 7}
		}`))
	}))
	defer server.Close()

	res := New(provider.Settings{APIKey: "test-key", BaseURL: server.URL}).
		Execute(context.Background(), &types.DispatchRequest{Model: "gemini-1.5-flash", Message: "hi"})
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.ErrorMessage)
	}
	if res.Content != "ab" || res.TokensUsed != 7 || res.Input() != 5 || res.Output() != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestExecute_Blocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": [], "promptFeedback": {"blockReason": "SAFETY"}}`))
	}))
	defer server.Close()

	res := New(provider.Settings{APIKey: "k", BaseURL: server.URL}).
		Execute(context.Background(), &types.DispatchRequest{Model: "m", Message: "hi"})
	if res.Success || res.ErrorMessage != "Gemini API error: Prompt blocked by Gemini API: SAFETY" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType string
	}{
		{
			"invalid key as 400", http.StatusBadRequest,
			`{"error": {"code": 400, "message": "API key not valid. Please pass a valid API key.", "status": "INVALID_ARGUMENT"}}`,
			llmerrors.TypeAuthentication,
		},
		{
			"plain 400", http.StatusBadRequest,
			`{"error": {"code": 400, "message": "bad field", "status": "INVALID_ARGUMENT"}}`,
			llmerrors.TypeInvalidRequest,
		},
		{
			"quota", http.StatusTooManyRequests,
			`{"error": {"code": 429, "message": "quota", "status": "RESOURCE_EXHAUSTED"}}`,
			llmerrors.TypeRateLimit,
		},
		{"forbidden", http.StatusForbidden, `{}`, llmerrors.TypeAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.status, []byte(tt.body)); got.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", got.Type, tt.wantType)
			}
		})
	}
}
