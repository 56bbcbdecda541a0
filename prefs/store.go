// Package prefs persists user favorites and preferences through the
// failure-safe durable store. Values are stored as raw JSON.
package prefs

import (
	"sync"

	tracker "github.com/OptimusRahul/covid19-tracker"
)

// Storage keys, relative to the store's namespace prefix.
const (
	FavoritesKey   = "favorites"
	PreferencesKey = "preferences"
)

// Store is one JSON value of type T under a fixed key. Reads fall back to
// the default when the key is missing or unreadable. It is safe for
// concurrent use within one process.
type Store[T any] struct {
	store *tracker.SafeStore
	key   string
	def   func() T

	mu sync.Mutex
}

// NewStore binds key in store. def builds the default value; it is called
// on every miss so callers never share a mutable default.
func NewStore[T any](store *tracker.SafeStore, key string, def func() T) *Store[T] {
	if def == nil {
		def = func() T {
			var zero T
			return zero
		}
	}
	return &Store[T]{store: store, key: key, def: def}
}

// Load returns the stored value or the default.
func (s *Store[T]) Load() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save replaces the stored value and reports whether it was persisted.
func (s *Store[T]) Save(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SetJSON(s.key, v)
}

// Update applies fn to the current value and saves the result. It returns
// the new value and whether it was persisted.
func (s *Store[T]) Update(fn func(*T)) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.load()
	fn(&v)
	return v, s.store.SetJSON(s.key, v)
}

// Reset removes the stored value so the next Load returns the default.
func (s *Store[T]) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Remove(s.key)
}

func (s *Store[T]) load() T {
	var v T
	if !s.store.GetJSON(s.key, &v) {
		return s.def()
	}
	return v
}
