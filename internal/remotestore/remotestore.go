// Package remotestore holds the server-side session document: one record
// per user whose sessionId field names the device session currently
// allowed to act for that user.
package remotestore

import (
	"context"
	"sync"
)

// FieldSessionID is the mutable field of the session document.
const FieldSessionID = "sessionId"

// MemoryStore is an in-process session document store. Failures can be
// injected to exercise best-effort callers.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]string
	err    error
	writes int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]string)}
}

// FailWith makes every subsequent write return err. nil restores success.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetSessionID records sessionID for userID.
func (m *MemoryStore) SetSessionID(_ context.Context, userID, sessionID string) error {
	return m.write(userID, sessionID)
}

// ClearSessionID empties the sessionId field for userID.
func (m *MemoryStore) ClearSessionID(_ context.Context, userID string) error {
	return m.write(userID, "")
}

func (m *MemoryStore) write(userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.err != nil {
		return m.err
	}
	m.docs[userID] = sessionID
	return nil
}

// SessionID returns the stored sessionId for userID.
func (m *MemoryStore) SessionID(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[userID], nil
}

// Writes returns the number of attempted writes, failed ones included.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Nop discards every write. It backs the "none" remote session kind.
type Nop struct{}

// SetSessionID implements the session store.
func (Nop) SetSessionID(context.Context, string, string) error { return nil }

// ClearSessionID implements the session store.
func (Nop) ClearSessionID(context.Context, string) error { return nil }
