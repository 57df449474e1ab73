package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of events editors emit per save.
const debounceDelay = 500 * time.Millisecond

// Status describes the currently loaded configuration.
type Status struct {
	Path        string
	Checksum    string
	LoadedAt    time.Time
	ReloadCount int64
}

// Manager handles configuration loading and hot-reload.
// It uses atomic pointer swaps to ensure thread-safe config updates.
type Manager struct {
	config atomic.Pointer[Config]
	status atomic.Pointer[Status]
	path   string
	logger *slog.Logger

	mu       sync.Mutex // guards onChange and serializes reloads
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
	reloads  int64
}

// NewManager creates a new configuration manager.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:   path,
		logger: logger,
	}
	if _, err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status returns metadata about the loaded configuration.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// OnChange registers a callback to be invoked after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Reload re-reads the file. An invalid file leaves the current
// configuration in place and returns the error. Listeners are only
// notified when the content changed.
func (m *Manager) Reload() error {
	changed, err := m.load()
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	cfg := m.Get()
	m.mu.Lock()
	listeners := append([]func(*Config){}, m.onChange...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// load reads, validates and swaps in the file content. It reports whether
// the checksum differs from the previous load.
func (m *Manager) load() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return false, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Load(data)
	if err != nil {
		return false, err
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if prev := m.status.Load(); prev != nil && prev.Checksum == checksum {
		return false, nil
	}

	m.reloads++
	m.config.Store(cfg)
	m.status.Store(&Status{
		Path:        m.path,
		Checksum:    checksum,
		LoadedAt:    time.Now(),
		ReloadCount: m.reloads,
	})
	return true, nil
}

// Watch starts watching the configuration file for changes until ctx is
// done. The parent directory is watched so that atomic renames (editors,
// mounted ConfigMaps) are seen too.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	target := filepath.Clean(m.path)
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				if err := m.Reload(); err != nil {
					m.logger.Error("failed to reload config, keeping current", "error", err)
					return
				}
				m.logger.Info("configuration reloaded", "checksum", m.Status().Checksum)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
