package identity

import "context"

// Store abstracts user persistence.
//
// Implementations must treat email as unique under its normalized form
// and must never return password hashes to callers that only need a
// profile (callers strip PasswordHash before serializing).
type Store interface {
	// CreateUser provisions a user; the password is hashed before storage.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetByEmail loads a user by normalized email. Returns ErrNotFound.
	GetByEmail(ctx context.Context, email string) (User, error)

	// GetByID loads a user by id. Returns ErrNotFound.
	GetByID(ctx context.Context, id string) (User, error)
}
