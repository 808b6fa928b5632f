// Package seen tracks recently processed report keys with a fixed capacity.
//
// Keys live in a circular buffer in insertion order next to an index map.
// When the buffer is full the oldest key is overwritten and forgotten, so
// eviction order is deterministic: a key is only forgotten after capacity
// newer keys have been added.
package seen

import "sync"

// DefaultCapacity is the default number of keys remembered.
const DefaultCapacity = 10000

// Set is a bounded, oldest-first-evicting set of strings. Goroutine-safe.
type Set struct {
	mu      sync.Mutex
	ring    []string
	index   map[string]struct{}
	head    int // next write position
	count   int
	evicted uint64
}

// New creates a Set holding at most capacity keys.
func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Add records key and reports whether it was new. Adding a key already
// present does not refresh its position.
func (s *Set) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; ok {
		return false
	}
	if s.count == len(s.ring) {
		delete(s.index, s.ring[s.head])
		s.evicted++
	} else {
		s.count++
	}
	s.ring[s.head] = key
	s.index[key] = struct{}{}
	s.head = (s.head + 1) % len(s.ring)
	return true
}

// Contains reports whether key is currently remembered.
func (s *Set) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Len returns the number of keys remembered.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Cap returns the capacity.
func (s *Set) Cap() int {
	return len(s.ring)
}

// Evicted returns how many keys have been forgotten to make room.
func (s *Set) Evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// Keys returns the remembered keys, oldest first.
func (s *Set) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}
	result := make([]string, s.count)
	if s.count < len(s.ring) {
		copy(result, s.ring[:s.count])
	} else {
		n := copy(result, s.ring[s.head:])
		copy(result[n:], s.ring[:s.head])
	}
	return result
}
