package memory

import (
	"context"
	"sync"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

type movieKey struct {
	source string
	slug   string
}

// CatalogStore is an in-memory crawler.CatalogStore.
type CatalogStore struct {
	mu     sync.RWMutex
	movies map[movieKey]crawler.MovieRecord
}

// NewCatalogStore constructs a CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{movies: make(map[movieKey]crawler.MovieRecord)}
}

// ContentHash returns the stored hash for (source, slug), or "" when absent.
func (s *CatalogStore) ContentHash(_ context.Context, source, slug string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.movies[movieKey{source, slug}]
	if !ok {
		return "", nil
	}
	return rec.ContentHash, nil
}

// Upsert inserts or replaces the record for (source, slug).
func (s *CatalogStore) Upsert(_ context.Context, movie crawler.MovieRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movies[movieKey{movie.Source, movie.Slug}] = movie
	return nil
}

// Get returns the stored record, for tests and inspection.
func (s *CatalogStore) Get(source, slug string) (crawler.MovieRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.movies[movieKey{source, slug}]
	return rec, ok
}

// Len returns the number of stored records.
func (s *CatalogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.movies)
}
