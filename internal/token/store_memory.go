package token

import (
	"context"
	"sync"
)

// MemoryStore is the dev and test fallback when neither Redis nor Postgres
// is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]Grant
}

// NewMemoryStore constructs an empty in-memory grant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grants: make(map[string]Grant)}
}

// Save persists a grant under its token hash.
func (s *MemoryStore) Save(ctx context.Context, hash string, g Grant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.grants[hash] = g
	s.mu.Unlock()
	return nil
}

// Get loads a grant by token hash.
func (s *MemoryStore) Get(ctx context.Context, hash string) (Grant, error) {
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}

	s.mu.RLock()
	g, ok := s.grants[hash]
	s.mu.RUnlock()
	if !ok {
		return Grant{}, ErrTokenNotFound
	}
	return g, nil
}

// Delete removes a grant.
func (s *MemoryStore) Delete(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.grants, hash)
	s.mu.Unlock()
	return nil
}
