package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/agentgate/internal/provider"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

func dispatchRequest() *types.DispatchRequest {
	return &types.DispatchRequest{JobID: "job-1", UserID: "u1", Model: "gpt-4", Message: "Hello world"}
}

func TestNew_TrimsBaseURL(t *testing.T) {
	a := New(provider.Settings{APIKey: "k", BaseURL: "https://custom.api.com/v1/"}).(*Adapter)
	if a.baseURL != "https://custom.api.com/v1" {
		t.Errorf("baseURL = %s, want https://custom.api.com/v1", a.baseURL)
	}

	a = New(provider.Settings{APIKey: "k"}).(*Adapter)
	if a.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %s, want %s", a.baseURL, DefaultBaseURL)
	}
}

func TestExecute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Organization"); got != "org-1" {
			t.Errorf("OpenAI-Organization = %q", got)
		}

		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4" || len(req.Messages) != 1 || *req.Messages[0].Content != "Hello world" {
			t.Errorf("unexpected request body: %s", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "Hallo Welt"}}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`))
	}))
	defer server.Close()

	a := New(provider.Settings{APIKey: "test-key", OrganizationID: "org-1", BaseURL: server.URL, Timeout: 5 * time.Second})
	res := a.Execute(context.Background(), dispatchRequest())

	if !res.Success {
		t.Fatalf("Execute failed: %s", res.ErrorMessage)
	}
	if res.Content != "Hallo Welt" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.TokensUsed != 12 || res.Input() != 9 || res.Output() != 3 {
		t.Errorf("tokens = %d/%d/%d, want 12/9/3", res.TokensUsed, res.Input(), res.Output())
	}
	if res.JobID != "job-1" || res.UserID != "u1" {
		t.Errorf("identity not echoed: %+v", res)
	}
}

func TestExecute_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType string
		wantMsg  string
	}{
		{"auth", http.StatusUnauthorized, llmerrors.TypeAuthentication, "OpenAI API authentication failed: Incorrect API key"},
		{"rate limit", http.StatusTooManyRequests, llmerrors.TypeRateLimit, "OpenAI API rate limit exceeded: Incorrect API key"},
		{"bad request", http.StatusBadRequest, llmerrors.TypeInvalidRequest, "OpenAI API error: Incorrect API key"},
		{"unavailable", http.StatusServiceUnavailable, llmerrors.TypeServiceUnavailable, "OpenAI API error: Incorrect API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "Incorrect API key", "type": "invalid_request_error"}}`))
			}))
			defer server.Close()

			res := New(provider.Settings{APIKey: "k", BaseURL: server.URL}).Execute(context.Background(), dispatchRequest())
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.ErrorType != tt.wantType {
				t.Errorf("ErrorType = %s, want %s", res.ErrorType, tt.wantType)
			}
			if res.ErrorMessage != tt.wantMsg {
				t.Errorf("ErrorMessage = %q, want %q", res.ErrorMessage, tt.wantMsg)
			}
		})
	}
}

func TestExecute_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	res := New(provider.Settings{APIKey: "k", BaseURL: server.URL}).Execute(context.Background(), dispatchRequest())
	if res.Success || res.ErrorMessage != "OpenAI API error: No response choices returned from OpenAI API" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestExecute_MissingKeyMakesNoCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	res := New(provider.Settings{BaseURL: server.URL}).Execute(context.Background(), dispatchRequest())
	if res.Success || res.ErrorType != llmerrors.TypeAuthentication {
		t.Errorf("unexpected result: %+v", res)
	}
	if called {
		t.Error("backend was called without an API key")
	}
}

func TestExecute_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	res := New(provider.Settings{APIKey: "k", BaseURL: server.URL, Timeout: 20 * time.Millisecond}).
		Execute(context.Background(), dispatchRequest())
	if res.Success || res.ErrorType != llmerrors.TypeTimeout {
		t.Errorf("unexpected result: %+v", res)
	}
}
