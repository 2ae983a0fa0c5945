package credstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the pair in process memory only. Used for ephemeral
// sessions and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *Credential
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Get returns a copy of the stored pair.
func (m *MemoryStore) Get(_ context.Context) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyCredential(m.cred), nil
}

// Set replaces the pair.
func (m *MemoryStore) Set(_ context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cred = &c

	return nil
}

// Clear forgets the pair.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cred = nil

	return nil
}
