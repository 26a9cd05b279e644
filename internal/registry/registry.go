// Package registry provides the per-category bookkeeping stores used by the
// capture layer. Each store is an independent lock domain: instances,
// devices, per-device queues and per-device swapchains each get their own
// Store so contention stays local to one category.
package registry

import "sync"

// Store is a concurrent associative store keyed by opaque handles.
// The zero value is not usable; create stores with New.
type Store[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]V
}

// New creates an empty store.
func New[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{items: make(map[K]V)}
}

// Insert adds or replaces the record for key.
func (s *Store[K, V]) Insert(key K, record V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = record
}

// Find returns the record for key. A miss returns the zero value and false;
// callers must treat a miss as a pass-through condition, never a fatal error.
func (s *Store[K, V]) Find(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.items[key]
	return record, ok
}

// Remove deletes and returns the record for key.
func (s *Store[K, V]) Remove(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return record, ok
}

// ForEach visits every record under a single lock acquisition. The visitor
// must not mutate this store reentrantly. Returning false stops the walk.
func (s *Store[K, V]) ForEach(visit func(key K, record V) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, record := range s.items {
		if !visit(key, record) {
			return
		}
	}
}

// Len returns the number of stored records.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
