package tenant

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory [Store], typically filled from the YAML config and
// refreshed on config reload. It is safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore holding profiles.
func NewMemStore(profiles ...Profile) *MemStore {
	s := &MemStore{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (Profile, error) {
	s.mu.RLock()
	p, ok := s.profiles[id]
	s.mu.RUnlock()
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// Put adds or replaces one profile.
func (s *MemStore) Put(p Profile) {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

// Replace swaps the whole profile set atomically.
func (s *MemStore) Replace(profiles []Profile) {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		m[p.ID] = p
	}
	s.mu.Lock()
	s.profiles = m
	s.mu.Unlock()
}

// IDs returns the known tenant ids, sorted.
func (s *MemStore) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
