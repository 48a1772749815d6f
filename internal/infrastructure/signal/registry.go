package signal

import (
	"sync"

	"pixelfleet/internal/core/domain"
)

// Event is a registry lifecycle event.
type Event int

const (
	EventAdded Event = iota
	EventRemoved
)

// Listener receives registry lifecycle events. Dispatch is synchronous
// with the mutation, after the entry is fully inserted or removed.
type Listener[T any] func(ev Event, id string, v T)

// Registry is a concurrency-safe id -> connection store for one role.
// The matchmaker client subscribes to it to track unit occupancy.
type Registry[T any] struct {
	mu        sync.RWMutex
	entries   map[string]T
	listeners []Listener[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]T)}
}

// Subscribe registers a lifecycle listener. Listeners must be
// registered before the registry starts mutating.
func (r *Registry[T]) Subscribe(fn Listener[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Add stores v under id. Returns domain.ErrDuplicateID when the id is
// already present.
func (r *Registry[T]) Add(id string, v T) error {
	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return domain.ErrDuplicateID
	}
	r.entries[id] = v
	listeners := r.listeners
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(EventAdded, id, v)
	}
	return nil
}

// Remove deletes the entry under id, returning it if it was present.
func (r *Registry[T]) Remove(id string) (T, bool) {
	r.mu.Lock()
	v, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		var zero T
		return zero, false
	}
	delete(r.entries, id)
	listeners := r.listeners
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(EventRemoved, id, v)
	}
	return v, true
}

// Get looks up the entry under id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[id]
	return v, ok
}

// List returns a snapshot of all entries. Order is unspecified.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.entries))
	for _, v := range r.entries {
		out = append(out, v)
	}
	return out
}

// IDs returns a snapshot of all entry ids.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

// Len returns the number of entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
