// Package providers wires every canonical adapter into a provider.Router.
package providers

import (
	"github.com/blueberrycongee/agentgate/internal/provider"
	"github.com/blueberrycongee/agentgate/internal/provider/anthropic"
	"github.com/blueberrycongee/agentgate/internal/provider/gemini"
	"github.com/blueberrycongee/agentgate/internal/provider/ollama"
	"github.com/blueberrycongee/agentgate/internal/provider/openai"
)

// ProviderFactories maps canonical providers to their adapter factories.
var ProviderFactories = map[provider.Type]provider.Factory{
	provider.OpenAI: openai.New,
	provider.Claude: anthropic.New,
	provider.Gemini: gemini.New,
	provider.Ollama: ollama.New,
}

// RegisterAll installs every factory on r.
func RegisterAll(r *provider.Router) {
	for t, f := range ProviderFactories {
		r.Register(t, f)
	}
}
