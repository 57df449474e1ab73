package store

import (
	"context"
	"sort"
	"sync"

	"github.com/blueberrycongee/agentgate/internal/provider"
	"github.com/blueberrycongee/agentgate/internal/ratelimit"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// MemoryStore keeps everything in process. Rate-limit state delegates to
// ratelimit.MemoryStore.
type MemoryStore struct {
	*ratelimit.MemoryStore

	mu        sync.RWMutex
	jobs      map[string]types.Job
	providers map[string]provider.Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		MemoryStore: ratelimit.NewMemoryStore(),
		jobs:        make(map[string]types.Job),
		providers:   make(map[string]provider.Record),
	}
}

// CreateJob implements jobs.Store.
func (m *MemoryStore) CreateJob(_ context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

// GetJob implements jobs.Store.
func (m *MemoryStore) GetJob(_ context.Context, id string) (*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.DurationMs != nil {
		d := *job.DurationMs
		job.DurationMs = &d
	}
	return &job, nil
}

func (m *MemoryStore) updateJob(id string, fn func(*types.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&job)
	m.jobs[id] = job
	return nil
}

// UpdateJobStatus implements jobs.Store.
func (m *MemoryStore) UpdateJobStatus(_ context.Context, id string, status types.JobStatus) error {
	return m.updateJob(id, func(j *types.Job) { j.Status = status })
}

// UpdateJobDuration implements jobs.Store.
func (m *MemoryStore) UpdateJobDuration(_ context.Context, id string, durationMs int64) error {
	return m.updateJob(id, func(j *types.Job) { j.DurationMs = &durationMs })
}

// UpdateJobTokens implements jobs.Store.
func (m *MemoryStore) UpdateJobTokens(_ context.Context, id string, input, output int) error {
	return m.updateJob(id, func(j *types.Job) {
		j.InputTokens = input
		j.OutputTokens = output
	})
}

// ActiveProviderConfig implements provider.ConfigSource.
func (m *MemoryStore) ActiveProviderConfig(_ context.Context, t provider.Type) (*provider.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.providers {
		if rec.Type == t && rec.Active {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

// UpsertProviderConfig implements Store.
func (m *MemoryStore) UpsertProviderConfig(_ context.Context, rec *provider.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Active {
		for id, other := range m.providers {
			if other.Type == rec.Type && id != rec.ID {
				other.Active = false
				m.providers[id] = other
			}
		}
	}
	m.providers[rec.ID] = *rec
	return nil
}

// ListProviderConfigs implements Store.
func (m *MemoryStore) ListProviderConfigs(_ context.Context) ([]provider.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]provider.Record, 0, len(m.providers))
	for _, rec := range m.providers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
