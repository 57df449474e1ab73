// Package env resolves env://NAME references from the process environment.
package env

import (
	"context"
	"fmt"
	"os"
)

// Provider reads environment variables.
type Provider struct {
	lookup func(string) (string, bool)
}

// New creates an environment provider.
func New() *Provider {
	return &Provider{lookup: os.LookupEnv}
}

// Get returns the value of the variable named by path. Unset and empty
// variables are both errors, since an empty API key is never usable.
func (p *Provider) Get(_ context.Context, path string) (string, error) {
	val, ok := p.lookup(path)
	if !ok || val == "" {
		return "", fmt.Errorf("environment variable %q not set", path)
	}
	return val, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}
