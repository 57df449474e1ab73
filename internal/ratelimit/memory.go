package ratelimit

import (
	"context"
	"sync"
)

// MemoryStore keeps client state in process. Each client has its own mutex
// so concurrent requests from one client never lose updates.
type MemoryStore struct {
	mu      sync.Mutex
	clients map[string]*memoryEntry
}

type memoryEntry struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) entry(clientID string, defaults Limits) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.clients[clientID]
	if !ok {
		e = &memoryEntry{state: State{
			ClientID: clientID,
			RPMLimit: defaults.RPM,
			TPMLimit: defaults.TPM,
		}}
		m.clients[clientID] = e
	}
	return e
}

// Mutate implements StateStore.
func (m *MemoryStore) Mutate(_ context.Context, clientID string, defaults Limits, fn func(*State) error) (State, error) {
	e := m.entry(clientID, defaults)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.state
	if err := fn(&next); err != nil {
		return e.state, err
	}
	e.state = next
	return next, nil
}
