// Package token issues and validates the opaque bearer credentials used by
// all three portals.
//
// Tokens are random URL-safe strings handed to the client verbatim; the
// server persists only a SHA-256 hex hash, so a leaked store never yields
// usable credentials.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"bluepeak/internal/identity"
)

// Grant is the server-side state backing one issued bearer token.
type Grant struct {
	UserID    string
	Role      identity.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewOpaqueToken returns a cryptographically random bearer token.
// It is URL-safe (base64url, no padding) and lives only on the client.
func NewOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashTokenHex returns the server-stored hash for a bearer token (64 hex chars).
func HashTokenHex(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// Service issues, validates and revokes bearer tokens against a Store.
type Service struct {
	store Store
	ttl   time.Duration
	bytes int
}

// NewService constructs a token Service. ttl <= 0 falls back to 12h.
func NewService(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{store: store, ttl: ttl, bytes: 32}
}

// Issue mints a fresh token for the user and persists its grant.
func (s *Service) Issue(ctx context.Context, now time.Time, u identity.User) (string, Grant, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	plain, err := NewOpaqueToken(s.bytes)
	if err != nil {
		return "", Grant{}, err
	}

	g := Grant{
		UserID:    u.ID,
		Role:      u.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, HashTokenHex(plain), g); err != nil {
		return "", Grant{}, err
	}
	return plain, g, nil
}

// Validate resolves a presented bearer token to its grant.
// Expired grants are deleted on sight and reported as ErrTokenExpired.
func (s *Service) Validate(ctx context.Context, now time.Time, tok string) (Grant, error) {
	if tok == "" || len(tok) > 4096 {
		return Grant{}, ErrTokenNotFound
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	hash := HashTokenHex(tok)
	g, err := s.store.Get(ctx, hash)
	if err != nil {
		return Grant{}, err
	}
	if !g.ExpiresAt.After(now) {
		_ = s.store.Delete(ctx, hash)
		return Grant{}, ErrTokenExpired
	}
	return g, nil
}

// Revoke destroys a token's grant. Revoking an unknown token is not an error.
func (s *Service) Revoke(ctx context.Context, tok string) error {
	if tok == "" {
		return nil
	}
	return s.store.Delete(ctx, HashTokenHex(tok))
}
