package storage

import (
	"context"
	"sync"
)

// MemoryStore is a process-local DocumentStore used by tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
	// FailSave, when set, is returned by every Save. Used to simulate outages.
	FailSave error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	s.docs[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
