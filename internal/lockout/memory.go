package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps lockout state in process memory. Suitable for tests and
// single-node deployments; multi-node setups should use the PostgreSQL store.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, handle string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[handle], nil
}

func (m *MemoryStore) Put(_ context.Context, handle string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[handle] = st
	return nil
}

func (m *MemoryStore) Fail(_ context.Context, handle string, now time.Time) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[handle]
	if !st.BlockedUntil.IsZero() && !now.Before(st.BlockedUntil) {
		st = State{}
	}
	st.Failures++
	m.states[handle] = st
	return st, nil
}

func (m *MemoryStore) Clear(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, handle)
	return nil
}
