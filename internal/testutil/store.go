package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// pager is satisfied by filters that embed *types.QueryFilter.
type pager interface {
	GetLimit() int
	GetOffset() int
}

// InMemoryStore is a generic thread-safe map keyed by id, the base of every
// in-memory repository used in tests. Items are listed in insertion order
// unless a sort function says otherwise.
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{items: make(map[string]T)}
}

func (s *InMemoryStore[T]) Create(_ context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return fmt.Errorf("item with id %s already exists", id)
	}
	s.items[id] = item
	s.order = append(s.order, id)
	return nil
}

func (s *InMemoryStore[T]) Get(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("item with id %s not found", id)
	}
	return item, nil
}

func (s *InMemoryStore[T]) Update(_ context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("item with id %s not found", id)
	}
	s.items[id] = item
	return nil
}

func (s *InMemoryStore[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("item with id %s not found", id)
	}
	delete(s.items, id)
	s.compact()
	return nil
}

// List returns the items accepted by filterFn ordered by sortFn, paginated
// when filter implements GetLimit/GetOffset.
func (s *InMemoryStore[T]) List(ctx context.Context, filter interface{}, filterFn func(context.Context, T, interface{}) bool, sortFn func(a, b T) bool) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.items))
	for _, id := range s.order {
		item := s.items[id]
		if filterFn == nil || filterFn(ctx, item, filter) {
			out = append(out, item)
		}
	}

	if sortFn != nil {
		sort.SliceStable(out, func(i, j int) bool { return sortFn(out[i], out[j]) })
	}

	if p, ok := filter.(pager); ok && p.GetLimit() > 0 {
		start := p.GetOffset()
		if start >= len(out) {
			return []T{}, nil
		}
		end := start + p.GetLimit()
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (s *InMemoryStore[T]) Count(ctx context.Context, filter interface{}, filterFn func(context.Context, T, interface{}) bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if filterFn == nil || filterFn(ctx, item, filter) {
			n++
		}
	}
	return n, nil
}

// Mutate runs fn on the stored item under the write lock. fn returns false to
// leave the item unchanged.
func (s *InMemoryStore[T]) Mutate(id string, fn func(T) (T, bool)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false, fmt.Errorf("item with id %s not found", id)
	}
	updated, changed := fn(item)
	if changed {
		s.items[id] = updated
	}
	return changed, nil
}

// DeleteWhere removes every item matching fn and returns how many were removed.
func (s *InMemoryStore[T]) DeleteWhere(fn func(T) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, item := range s.items {
		if fn(item) {
			delete(s.items, id)
			n++
		}
	}
	if n > 0 {
		s.compact()
	}
	return n
}

func (s *InMemoryStore[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
	s.order = nil
}

// compact drops deleted ids from the insertion order. Callers hold the lock.
func (s *InMemoryStore[T]) compact() {
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.items[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
}
