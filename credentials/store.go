package credentials

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("credentials not found")

// Store persists credential bags keyed by connection ID.
type Store interface {
	Get(ctx context.Context, connectionID uuid.UUID) (Data, error)
	// Set merges updates into the stored bag, creating it if needed.
	Set(ctx context.Context, connectionID uuid.UUID, updates Data) error
	// Replace overwrites the stored bag.
	Replace(ctx context.Context, connectionID uuid.UUID, data Data) error
	Delete(ctx context.Context, connectionID uuid.UUID) error
}

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Data
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[uuid.UUID]Data)}
}

func (m *MemoryStore) Get(ctx context.Context, connectionID uuid.UUID) (Data, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[connectionID]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryStore) Set(ctx context.Context, connectionID uuid.UUID, updates Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[connectionID] = m.data[connectionID].Merge(updates)
	return nil
}

func (m *MemoryStore) Replace(ctx context.Context, connectionID uuid.UUID, data Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[connectionID] = data.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, connectionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, connectionID)
	return nil
}
