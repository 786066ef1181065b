package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements ObjectStore with an in-memory map, suitable for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied objects.
func NewMemoryStore(seed map[string][]byte) *MemoryStore {
	objects := make(map[string][]byte, len(seed))
	for path, data := range seed {
		if clean, err := cleanPath(path); err == nil {
			objects[clean] = append([]byte(nil), data...)
		}
	}
	return &MemoryStore{objects: objects}
}

func (s *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	clean, err := cleanPath(path)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[clean]
	return ok, nil
}

func (s *MemoryStore) ReadBytes(_ context.Context, path string) ([]byte, error) {
	clean, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[clean]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Write(_ context.Context, path string, data []byte) error {
	clean, err := cleanPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[clean] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimLeft(prefix, "/")
	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	for path := range s.objects {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
