package provider

import (
	"strings"
)

// aliases maps display names and known misspellings to canonical types.
var aliases = map[string]Type{
	"openai":           OpenAI,
	"open ai":          OpenAI,
	"chatgpt":          OpenAI,
	"claude":           Claude,
	"anthropic":        Claude,
	"anthropic claude": Claude,
	"gemini":           Gemini,
	"google":           Gemini,
	"google gemini":    Gemini,
	"ollama":           Ollama,
	"ollama (local)":   Ollama,
	"ollama (loakl)":   Ollama,
	"ollama local":     Ollama,
}

// Normalize lower-cases and trims raw, then maps it through the alias table.
// It returns the canonical type, the normalized spelling and whether the
// provider is supported.
func Normalize(raw string) (Type, string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if t, ok := aliases[normalized]; ok {
		return t, string(t), true
	}
	return "", normalized, false
}
