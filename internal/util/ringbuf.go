package util

import "sync"

// Ring is a fixed-capacity circular buffer; Append overwrites the oldest
// element once full. Safe for concurrent use.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	n     int
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{items: make([]T, capacity)}
}

// Append adds an item, evicting the oldest when at capacity.
func (r *Ring[T]) Append(item T) {
	r.mu.Lock()
	r.items[(r.start+r.n)%len(r.items)] = item
	if r.n == len(r.items) {
		r.start = (r.start + 1) % len(r.items)
	} else {
		r.n++
	}
	r.mu.Unlock()
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, r.n)
	for i := range out {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// Len reports how many elements are stored.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}
