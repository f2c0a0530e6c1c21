// Package memory is an in-process Storage for tests and single-node demos.
package memory

import (
	"context"
	"sync"

	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

// Storage keeps snapshots in a map.
type Storage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	writes map[string]int
}

// NewStorage creates an empty in-memory storage.
func NewStorage() *Storage {
	return &Storage{
		data:   make(map[string][]byte),
		writes: make(map[string]int),
	}
}

func (s *Storage) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[key]
	if !ok {
		return nil, apperrors.NotFound("cart snapshot", key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *Storage) Write(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.data[key] = buf
	s.writes[key]++
	return nil
}

func (s *Storage) Ping(context.Context) error { return nil }

// Writes returns how many times key has been written.
func (s *Storage) Writes(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[key]
}
