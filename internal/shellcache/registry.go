package shellcache

import (
	"sort"
	"sync"
)

// Registry holds the named stores. One logical store exists per deployed
// version; activating a new version deletes all others.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry constructs an empty store registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*Store)}
}

// Open returns the store with the given name, creating it if absent.
func (r *Registry) Open(name string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stores[name]
	if !ok {
		s = newStore()
		r.stores[name] = s
	}
	return s
}

// Delete removes a named store and all of its entries.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	delete(r.stores, name)
	r.mu.Unlock()
}

// Names enumerates the existing store names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
