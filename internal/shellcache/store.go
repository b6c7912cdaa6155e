// Package shellcache implements the offline cache controller that fronts
// the Bluepeak origin.
//
// It keeps the application shell and static assets warm in versioned named
// stores, decides cache-or-network per request class, and synthesizes
// offline responses when the origin is unreachable. API traffic is never
// cached.
package shellcache

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// Entry is a captured origin response.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Store is one named key-value store mapping request identity (method +
// URL) to a captured response. Entries are written opportunistically on
// successful fetch and never evicted individually; the only eviction
// mechanism is whole-store deletion on version change.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func newStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Key builds the request identity used as the store key.
func Key(r *http.Request) string {
	url := r.URL.Path
	if url == "" {
		url = "/"
	}
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}
	return r.Method + " " + url
}

// Get returns the cached entry for key, if any.
func (s *Store) Get(key string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	return e, ok
}

// Put captures a response under key. Concurrent writes to distinct keys
// are independent; a racing write to the same key last-writer-wins, which
// is fine for idempotent GET captures.
func (s *Store) Put(key string, e Entry) {
	if s == nil {
		return
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Len reports the number of captured responses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the captured request identities, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
