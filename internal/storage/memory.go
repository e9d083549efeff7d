package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"specloom/internal/domain"
)

// Memory keeps documents in a map, serialized so callers get snapshots rather
// than shared pointers. Used in tests.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: map[string][]byte{}}
}

func (s *Memory) Load(_ context.Context, path string) (*domain.Manifest, error) {
	s.mu.Lock()
	data, ok := s.docs[path]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("manifest %s: %w", path, ErrNotFound)
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w: %v", path, ErrMalformedDocument, err)
	}
	return &m, nil
}

func (s *Memory) Save(_ context.Context, path string, m *domain.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	s.mu.Lock()
	s.docs[path] = data
	s.mu.Unlock()
	return nil
}

func (s *Memory) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	_, ok := s.docs[path]
	s.mu.Unlock()
	return ok, nil
}
