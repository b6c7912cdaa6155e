package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bluepeak/internal/identity"
)

// PostgresStore implements Store over bluepeak.bearer_tokens.
// The pool is owned by the caller and is never closed here.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed grant store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("token: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// Save persists a grant under its token hash.
func (s *PostgresStore) Save(ctx context.Context, hash string, g Grant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bluepeak.bearer_tokens (token_hash, user_id, role, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    role = EXCLUDED.role,
		    issued_at = EXCLUDED.issued_at,
		    expires_at = EXCLUDED.expires_at
	`, hash, g.UserID, string(g.Role), g.IssuedAt, g.ExpiresAt)
	return err
}

// Get loads a grant by token hash.
func (s *PostgresStore) Get(ctx context.Context, hash string) (Grant, error) {
	var (
		g    Grant
		role string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, role, issued_at, expires_at
		FROM bluepeak.bearer_tokens
		WHERE token_hash = $1
	`, hash).Scan(&g.UserID, &role, &g.IssuedAt, &g.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Grant{}, ErrTokenNotFound
	}
	if err != nil {
		return Grant{}, err
	}

	g.Role = identity.Role(role)
	return g, nil
}

// Delete removes a grant.
func (s *PostgresStore) Delete(ctx context.Context, hash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM bluepeak.bearer_tokens WHERE token_hash = $1`, hash)
	return err
}
