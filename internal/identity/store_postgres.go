package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements user persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must not close it.
// Schema identifiers are validated to avoid SQL injection via identifiers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "bluepeak").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "bluepeak"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) users() string { return s.schema + ".users" }

// CreateUser provisions a user row; the password is hashed before storage.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.users()+` (
			id, role, email, display_name, password_hash,
			permissions, access_level, team_ids, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		id, string(in.Role), email, strings.TrimSpace(in.DisplayName), hash,
		in.Permissions, string(in.AccessLevel), in.TeamIDs, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, err
	}

	return User{
		ID:           id,
		Role:         in.Role,
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Permissions:  append([]string(nil), in.Permissions...),
		AccessLevel:  in.AccessLevel,
		TeamIDs:      append([]string(nil), in.TeamIDs...),
		PasswordHash: hash,
		CreatedAt:    now,
	}, nil
}

// GetByEmail loads a user by normalized email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.getWhere(ctx, "identity.GetByEmail", "email = $1", NormalizeEmail(email))
}

// GetByID loads a user by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	return s.getWhere(ctx, "identity.GetByID", "id = $1", id)
}

func (s *PostgresStore) getWhere(ctx context.Context, op, where string, arg any) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}

	var (
		u           User
		role, level string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, role, email, display_name, password_hash,
		       permissions, access_level, team_ids, created_at
		FROM `+s.users()+`
		WHERE `+where+`
	`, arg).Scan(
		&u.ID, &role, &u.Email, &u.DisplayName, &u.PasswordHash,
		&u.Permissions, &level, &u.TeamIDs, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, err
	}

	u.Role = Role(role)
	u.AccessLevel = AccessLevel(level)
	return u, nil
}
