package meal

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps meals in a map. It backs tests and the
// zero-configuration "memory" store backend.
type MemoryStore struct {
	mu    sync.RWMutex
	meals map[string]Meal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{meals: make(map[string]Meal)}
}

func (s *MemoryStore) Get(ctx context.Context, name string) (Meal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meals[NormalizeName(name)]
	if !ok {
		return Meal{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Meal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.meals))
	for key := range s.meals {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]Meal, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.meals[key])
	}
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, m Meal) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meals[m.Key()] = m
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeName(name)
	if _, ok := s.meals[key]; !ok {
		return ErrNotFound
	}
	delete(s.meals, key)
	return nil
}
