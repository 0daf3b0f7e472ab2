// Package storage persists the small amount of device-local state the
// session core needs across restarts: the time of the last user
// interaction.
package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the interaction time in memory. It is used for
// ephemeral runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	at    time.Time
	set   bool
	saves int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// LoadLastInteraction returns the stored time, if any.
func (m *MemoryStore) LoadLastInteraction(context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.at, m.set, nil
}

// SaveLastInteraction stores t.
func (m *MemoryStore) SaveLastInteraction(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.at, m.set = t, true
	m.saves++
	return nil
}

// ClearLastInteraction forgets the stored time.
func (m *MemoryStore) ClearLastInteraction(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.at, m.set = time.Time{}, false
	return nil
}

// Saves returns how many times SaveLastInteraction was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
