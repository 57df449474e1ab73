// Package agent loads agent definitions: named prompt templates bound to a
// provider and model, stored as one YAML file per agent.
package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when no definition exists for a name.
	ErrNotFound = errors.New("agent not found")

	// ErrInvalidName is returned for names that could escape the agents
	// directory or sanitize to nothing.
	ErrInvalidName = errors.New("invalid agent name")

	// ErrMismatch is returned when a request names a different provider or
	// model than the agent is configured for.
	ErrMismatch = errors.New("request does not match agent configuration")
)

// Agent is one definition.
type Agent struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description" json:"description"`
	Role        string           `yaml:"role" json:"role"`
	Provider    string           `yaml:"provider" json:"provider"`
	Model       string           `yaml:"model" json:"model"`
	Task        string           `yaml:"task" json:"task"`
	Parameters  []map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Validate checks required fields.
func (a *Agent) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", a.Name}, {"description", a.Description}, {"role", a.Role},
		{"provider", a.Provider}, {"model", a.Model}, {"task", a.Task},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("agent %q missing fields: %s", a.Name, strings.Join(missing, ", "))
	}
	return nil
}

// CheckRequest verifies that provider and model match the definition,
// ignoring case.
func (a *Agent) CheckRequest(provider, model string) error {
	if !strings.EqualFold(provider, a.Provider) {
		return fmt.Errorf("%w: provider '%s' does not match agent configuration '%s'", ErrMismatch, provider, a.Provider)
	}
	if !strings.EqualFold(model, a.Model) {
		return fmt.Errorf("%w: model '%s' does not match agent configuration '%s'", ErrMismatch, model, a.Model)
	}
	return nil
}

// TaskWith returns the agent task with request parameters appended as sorted
// "key: value" lines.
func (a *Agent) TaskWith(params map[string]any) string {
	if len(params) == 0 {
		return a.Task
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("%s: %v", k, params[k])
	}
	return a.Task + "\n\nParameters:\n" + strings.Join(lines, "\n")
}

// ComposeMessage builds the prompt sent to the provider for a plain
// execution.
func (a *Agent) ComposeMessage(message string, params map[string]any) string {
	return fmt.Sprintf("%s\n\n%s\n\nUser message: %s", a.Role, a.TaskWith(params), message)
}

// ComposeChunkMessage builds the prompt for one chunk of a document.
func (a *Agent) ComposeChunkMessage(chunkContext, chunk string, params map[string]any) string {
	return fmt.Sprintf("%s\n\n%s\n\n%s\n\nDocument content:\n%s", a.Role, a.TaskWith(params), chunkContext, chunk)
}
