package token

import (
	"context"
	"errors"
)

var (
	// ErrTokenNotFound is returned when a token hash matches no grant.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned when the grant exists but is past expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Store abstracts persistence for token grants, keyed by token hash.
//
// Implementations may expire grants lazily (memory, postgres) or natively
// (redis TTL); Service always re-checks expiry so either is acceptable.
type Store interface {
	// Save persists a grant under its token hash.
	Save(ctx context.Context, hash string, g Grant) error

	// Get loads a grant by token hash. Returns ErrTokenNotFound.
	Get(ctx context.Context, hash string) (Grant, error)

	// Delete removes a grant; deleting a missing grant is not an error.
	Delete(ctx context.Context, hash string) error
}
