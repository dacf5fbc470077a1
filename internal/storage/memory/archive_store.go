package memory

import (
	"context"
	"fmt"
	"sync"
)

// ArchiveStore keeps raw payload artifacts in-memory and returns
// pseudo URIs.
type ArchiveStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArchiveStore creates a new in-memory archive store.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a URI.
func (s *ArchiveStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns the stored bytes for a path, for tests and inspection.
func (s *ArchiveStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}
