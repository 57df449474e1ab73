package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Registry reads and writes definitions in a directory of *.yml files.
// Files are read on every lookup so edits take effect without a restart.
type Registry struct {
	dir    string
	logger *slog.Logger
}

// NewRegistry creates a registry rooted at dir.
func NewRegistry(dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{dir: dir, logger: logger}
}

// FileName maps an agent name to its file name. Names containing path
// separators or "..", or starting with a dot, are rejected; other
// characters outside letters, digits, '_' and '-' become '-'.
func FileName(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			return r
		}
		return '-'
	}, strings.ToLower(name))
	safe = strings.Trim(safe, "-")
	if safe == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	return safe + ".yml", nil
}

func (r *Registry) path(name string) (string, error) {
	file, err := FileName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.dir, file), nil
}

// Get loads the named agent.
func (r *Registry) Get(name string) (*Agent, error) {
	p, err := r.path(name)
	if err != nil {
		return nil, err
	}
	a, err := load(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return a, err
}

func load(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Agent
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// List loads every definition, sorted by name. Unreadable files are logged
// and skipped.
func (r *Registry) List() ([]Agent, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "*.yml"))
	if err != nil {
		return nil, err
	}
	agents := make([]Agent, 0, len(files))
	for _, f := range files {
		a, err := load(f)
		if err != nil {
			r.logger.Warn("skipping agent definition", "file", f, "error", err)
			continue
		}
		agents = append(agents, *a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

// Save writes a definition, creating the directory when needed.
func (r *Registry) Save(a *Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	p, err := r.path(a.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write agent: %w", err)
	}
	return nil
}

// Delete removes a definition. It reports whether a file existed.
func (r *Registry) Delete(name string) (bool, error) {
	p, err := r.path(name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
