// Package inmemory provides map-backed implementations of the domain
// repositories. They are the storage layer for tests and single-node
// deployments; a database-backed implementation satisfies the same
// interfaces.
package inmemory

import (
	"sync"

	ierr "github.com/subkernel/subkernel/internal/errors"
)

// store is a mutex-guarded map keyed by entity id. Copy semantics are the
// caller's responsibility: every typed store deep-copies on the way in and
// out so callers can never mutate shared state.
type store[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func newStore[T any]() *store[T] {
	return &store[T]{items: make(map[string]T)}
}

func (s *store[T]) create(id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return ierr.NewErrorf("item already exists with id %s", id).
			Mark(ierr.ErrAlreadyExists)
	}
	s.items[id] = item
	return nil
}

func (s *store[T]) get(id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, ierr.NewErrorf("item not found with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	return item, nil
}

func (s *store[T]) update(id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ierr.NewErrorf("item not found with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	s.items[id] = item
	return nil
}

func (s *store[T]) delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ierr.NewErrorf("item not found with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}

// list returns items matching the predicate; a nil predicate matches all
func (s *store[T]) list(match func(T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		if match == nil || match(item) {
			out = append(out, item)
		}
	}
	return out
}

// withLock runs fn while holding the write lock, for compare-and-swap
// operations that need read-modify-write atomicity
func (s *store[T]) withLock(fn func(items map[string]T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.items)
}
