// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/streamforge/catalog-crawler/internal/crawler"
)

// SettingsStore is an in-memory crawler.SettingsStore.
type SettingsStore struct {
	mu     sync.RWMutex
	byID   map[string]crawler.Settings
	byName map[string]string
}

// NewSettingsStore constructs a SettingsStore.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{
		byID:   make(map[string]crawler.Settings),
		byName: make(map[string]string),
	}
}

// Create stores a new settings record, enforcing name uniqueness.
func (s *SettingsStore) Create(_ context.Context, rec crawler.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[rec.Name]; exists {
		return crawler.NewConflictError("crawler settings named %q already exist", rec.Name)
	}
	s.byID[rec.ID] = rec
	s.byName[rec.Name] = rec.ID
	return nil
}

// Update replaces an existing record. The name index is keyed by the
// stored record's name, which never changes.
func (s *SettingsStore) Update(_ context.Context, rec crawler.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ID]; !ok {
		return crawler.NewNotFoundError("crawler settings", rec.ID)
	}
	s.byID[rec.ID] = rec
	return nil
}

// Get fetches a record by id.
func (s *SettingsStore) Get(_ context.Context, id string) (crawler.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return crawler.Settings{}, crawler.NewNotFoundError("crawler settings", id)
	}
	return rec, nil
}

// GetByName fetches a record by its unique name.
func (s *SettingsStore) GetByName(_ context.Context, name string) (crawler.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return crawler.Settings{}, crawler.NewNotFoundError("crawler settings", name)
	}
	return s.byID[id], nil
}

// List returns one page ordered by updatedAt descending plus the
// total match count.
func (s *SettingsStore) List(_ context.Context, filter crawler.ListFilter) ([]crawler.Settings, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]crawler.Settings, 0, len(s.byID))
	for _, rec := range s.byID {
		if filter.Enabled != nil && rec.Enabled != *filter.Enabled {
			continue
		}
		if filter.Search != "" && !matchesSearch(rec, filter.Search) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.Limit
	if start >= total {
		return []crawler.Settings{}, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	page := make([]crawler.Settings, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

// Delete removes a record by id.
func (s *SettingsStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return crawler.NewNotFoundError("crawler settings", id)
	}
	delete(s.byID, id)
	delete(s.byName, rec.Name)
	return nil
}

func matchesSearch(rec crawler.Settings, search string) bool {
	needle := strings.ToLower(search)
	return strings.Contains(strings.ToLower(rec.Name), needle) ||
		strings.Contains(strings.ToLower(rec.Host), needle)
}
