package notify

import (
	"context"
	"fmt"
	"sync"
)

// Store persists notification totals.
type Store interface {
	// Snapshot returns the current totals for every category.
	Snapshot(ctx context.Context) (Counts, error)
	// Increment adds n (which must be positive) to one category.
	Increment(ctx context.Context, cat Category, n int64) error
}

// MemoryStore is the dev and test fallback when Postgres is not configured.
type MemoryStore struct {
	mu     sync.RWMutex
	counts Counts
}

// NewMemoryStore constructs a zeroed in-memory counts store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Snapshot(ctx context.Context) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts, nil
}

func (s *MemoryStore) Increment(ctx context.Context, cat Category, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cat.Valid() {
		return fmt.Errorf("notify: unknown category %q", cat)
	}
	if n <= 0 {
		return fmt.Errorf("notify: non-positive increment %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.add(cat, n)
	return nil
}
