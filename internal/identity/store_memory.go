package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the dev and test fallback when Postgres is not configured.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string // normalized email -> id
}

// NewMemoryStore constructs an empty in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

// CreateUser provisions a user, enforcing email uniqueness.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := NormalizeEmail(in.Email)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}
	if in.Role == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "role is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	hash, err := HashPassword(in.Password, DefaultArgon2idParams())
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Role:         in.Role,
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Permissions:  append([]string(nil), in.Permissions...),
		AccessLevel:  in.AccessLevel,
		TeamIDs:      append([]string(nil), in.TeamIDs...),
		PasswordHash: hash,
		CreatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[id] = u
	s.byEmail[email] = id

	return u, nil
}

// GetByEmail loads a user by normalized email.
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, OpError{Op: "identity.GetByEmail", Kind: ErrNotFound}
	}
	return s.byID[id], nil
}

// GetByID loads a user by id.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, OpError{Op: "identity.GetByID", Kind: ErrNotFound}
	}
	return u, nil
}
