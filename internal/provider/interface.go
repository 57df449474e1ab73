// Package provider normalizes free-form backend names onto a closed set of
// canonical providers and dispatches requests through a uniform adapter
// contract. Each canonical provider has exactly one adapter type; adapters
// catch their own backend failures and report them in the result instead of
// returning Go errors.
package provider

import (
	"context"
	"time"

	"github.com/blueberrycongee/agentgate/pkg/types"
)

// Type is a canonical provider identifier.
type Type string

const (
	OpenAI Type = "openai"
	Claude Type = "claude"
	Gemini Type = "gemini"
	Ollama Type = "ollama"
)

// Types returns every canonical provider.
func Types() []Type {
	return []Type{OpenAI, Claude, Gemini, Ollama}
}

// Valid reports whether t is canonical.
func (t Type) Valid() bool {
	switch t {
	case OpenAI, Claude, Gemini, Ollama:
		return true
	default:
		return false
	}
}

// DisplayName is used in user-facing error messages.
func (t Type) DisplayName() string {
	switch t {
	case OpenAI:
		return "OpenAI"
	case Claude:
		return "Claude"
	case Gemini:
		return "Gemini"
	case Ollama:
		return "Ollama"
	default:
		return string(t)
	}
}

// Adapter executes a dispatch against one backend.
type Adapter interface {
	// Type returns the canonical provider this adapter serves.
	Type() Type

	// Execute performs the call. It never returns nil and never panics on
	// backend failures; those are mapped into a failed result.
	Execute(ctx context.Context, req *types.DispatchRequest) *types.DispatchResult
}

// Settings is the resolved live configuration for one provider.
type Settings struct {
	APIKey         string        `yaml:"api_key"`
	OrganizationID string        `yaml:"organization_id"`
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxTokens      int           `yaml:"max_tokens"` // claude only
}

// Factory builds an adapter from resolved settings.
type Factory func(Settings) Adapter

// Record is a persisted provider configuration row.
type Record struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           Type   `json:"provider_type"`
	APIKey         string `json:"-"`
	APIURL         string `json:"api_url,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	Active         bool   `json:"is_active"`
}

// ConfigSource looks up the active configuration record for a provider.
// It returns (nil, nil) when no active record exists.
type ConfigSource interface {
	ActiveProviderConfig(ctx context.Context, t Type) (*Record, error)
}
