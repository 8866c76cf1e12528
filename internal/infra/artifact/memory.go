// Package artifact provides domain.ArtifactStore backends for scaler and
// model artifacts: local filesystem, in-memory, S3 and Redis, plus a snappy
// compression wrapper usable over any of them.
package artifact

import (
	"context"
	"fmt"
	"sync"

	"github.com/synapseshield/shield/internal/domain"
)

// Ensure interfaces are implemented
var (
	_ domain.ArtifactStore = (*MemoryStore)(nil)
	_ domain.ArtifactStore = (*FileStore)(nil)
	_ domain.ArtifactStore = (*S3Store)(nil)
	_ domain.ArtifactStore = (*RedisStore)(nil)
	_ domain.ArtifactStore = (*Compressed)(nil)
)

// MemoryStore keeps artifacts in process memory. Used by tests and by the
// "memory" backend for throwaway runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.items[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrArtifactNotFound)
	}
	return clone(data), nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	return m.PutAll(ctx, map[string][]byte{key: data})
}

func (m *MemoryStore) PutAll(ctx context.Context, items map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range items {
		m.items[k] = clone(v)
	}
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[key]
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
