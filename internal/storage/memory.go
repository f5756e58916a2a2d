package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps values in process memory. A non-zero quota caps the total
// number of stored bytes, the way browser storage refuses writes once full.
type MemoryStorage struct {
	mu    sync.RWMutex
	data  map[string][]byte
	quota int
	used  int
}

func NewMemoryStorage(quota int) *MemoryStorage {
	return &MemoryStorage{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

func (s *MemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemoryStorage) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used - len(s.data[key]) + len(value)
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	s.used = used
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.used -= len(s.data[key])
	delete(s.data, key)
	return nil
}
