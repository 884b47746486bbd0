package knowledge

import (
	"context"
	"sync"
)

// MemoryStore keeps chunks in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks []Chunk
	hashes map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hashes: make(map[string]struct{})}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Put(_ context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks = append(m.chunks, c)
		m.hashes[c.Hash] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) HasHash(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.hashes[hash]
	return ok, nil
}

func (m *MemoryStore) All(_ context.Context) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Chunk(nil), m.chunks...), nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = nil
	m.hashes = make(map[string]struct{})
	return nil
}
