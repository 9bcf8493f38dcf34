package session

import (
	"errors"
	"sort"
	"sync"
)

// ErrSessionExists is returned when starting a session whose id is in use.
var ErrSessionExists = errors.New("session already exists")

// Registry maps session ids to live per-session state. The engine stores
// its own wrapper around *Session here. It is safe for concurrent use.
type Registry[T any] struct {
	mu       sync.RWMutex
	sessions map[string]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{sessions: make(map[string]T)}
}

// Start registers v under id.
func (r *Registry[T]) Start(id string, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return ErrSessionExists
	}
	r.sessions[id] = v
	return nil
}

// Get returns the state registered under id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.sessions[id]
	return v, ok
}

// Remove unregisters id and returns what was removed.
func (r *Registry[T]) Remove(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return v, ok
}

// Len returns the number of live sessions.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the live session ids in sorted order.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
