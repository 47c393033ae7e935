package cache

import (
	"context"
	"sort"
	"sync"
)

// Store is a generation-partitioned entry store.
type Store interface {
	// Get returns the entry for key in generation, or nil when absent.
	Get(ctx context.Context, generation, key string) (*Entry, error)

	// Put stores e under e.Key in generation, creating the generation if needed.
	Put(ctx context.Context, generation string, e *Entry) error

	// DeleteGeneration removes a generation and all its entries at once.
	// Deleting a missing generation is not an error.
	DeleteGeneration(ctx context.Context, generation string) error

	// Generations lists stored generation names in sorted order.
	Generations(ctx context.Context) ([]string, error)

	// Keys lists the entry keys of a generation in sorted order.
	Keys(ctx context.Context, generation string) ([]string, error)

	Close() error
}

// MemoryStore keeps generations in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	generations map[string]map[string]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{generations: make(map[string]map[string]*Entry)}
}

func (s *MemoryStore) Get(ctx context.Context, generation, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.generations[generation][key]
	if !ok {
		return nil, nil
	}
	return e.clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, generation string, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, ok := s.generations[generation]
	if !ok {
		gen = make(map[string]*Entry)
		s.generations[generation] = gen
	}
	gen[e.Key] = e.clone()
	return nil
}

func (s *MemoryStore) DeleteGeneration(ctx context.Context, generation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.generations, generation)
	return nil
}

func (s *MemoryStore) Generations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.generations))
	for name := range s.generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Keys(ctx context.Context, generation string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.generations[generation]))
	for key := range s.generations[generation] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return &c
}
