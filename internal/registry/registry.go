// Package registry maps names to in-process capabilities such as queue
// handlers and scheduled tasks.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/jobcore/internal/domain"
)

// Registry is a concurrency-safe name to value map that rejects duplicates
type Registry[T any] struct {
	kind  string
	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty registry; kind is used in error messages
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:  kind,
		items: make(map[string]T),
	}
}

// Register adds a named value. Registering a name twice is a ConfigurationError.
func (r *Registry[T]) Register(name string, v T) error {
	if name == "" {
		return domain.NewConfigurationError("register "+r.kind, fmt.Errorf("name is required"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[name]; ok {
		return domain.NewConfigurationError("register "+r.kind,
			fmt.Errorf("%s %q is already registered", r.kind, name))
	}
	r.items[name] = v
	return nil
}

// Lookup returns the value registered under name
func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	return v, ok
}

// Names returns the registered names sorted
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registrations
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
