// Package secret resolves credential references such as "env://NAME" or
// "vault://path#field" into their values. Provider API keys stored in
// configuration or in provider records may be either plain values or
// references.
package secret

import "context"

// Provider retrieves secrets for one reference scheme.
type Provider interface {
	// Get retrieves the secret at path, which is the reference with its
	// scheme removed: "OPENAI_API_KEY" for env, "secret/data/openai#api_key"
	// for vault.
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}
