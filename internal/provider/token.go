package provider

import "context"

// SecretResolver turns a credential reference (for example "env://NAME" or
// "vault://path#field") into its value. Plain values are returned unchanged.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// PlainSecrets returns every value unchanged.
type PlainSecrets struct{}

// Resolve implements SecretResolver.
func (PlainSecrets) Resolve(_ context.Context, ref string) (string, error) {
	return ref, nil
}
