// Package memory keeps cached responses in process memory.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/JakeFAU/favicon-edge/internal/cache"
)

// Store is an in-memory cache.Store with optional LRU eviction.
type Store struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List
}

type item struct {
	key   string
	entry cache.Entry
}

// New creates a Store. maxEntries <= 0 means unbounded.
func New(maxEntries int) *Store {
	return &Store{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Match returns a copy of the entry for key.
func (s *Store) Match(_ context.Context, key string) (cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[key]
	if !ok {
		return cache.Entry{}, cache.ErrMiss
	}
	s.order.MoveToFront(el)
	return el.Value.(*item).entry.Clone(), nil
}

// Put stores a copy of entry.
func (s *Store) Put(_ context.Context, key string, entry cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		el.Value.(*item).entry = entry.Clone()
		s.order.MoveToFront(el)
		return nil
	}
	s.entries[key] = s.order.PushFront(&item{key: key, entry: entry.Clone()})
	if s.maxEntries > 0 && s.order.Len() > s.maxEntries {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*item).key)
	}
	return nil
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
