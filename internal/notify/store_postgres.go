package notify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists notification totals in a single counters table.
//
// The pgx pool is owned by the caller; this store must not close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the counts store (default "bluepeak").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("notify: invalid schema identifier")
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
		return nil, fmt.Errorf("notify: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string { return s.schema + ".notification_counts" }

// Snapshot reads every category row; categories with no row yet read as zero.
func (s *PostgresStore) Snapshot(ctx context.Context) (Counts, error) {
	if s == nil || s.pool == nil {
		return Counts{}, fmt.Errorf("notify: nil store")
	}

	rows, err := s.pool.Query(ctx, `SELECT category, total FROM `+s.table())
	if err != nil {
		return Counts{}, err
	}
	defer rows.Close()

	var out Counts
	for rows.Next() {
		var (
			cat string
			n   int64
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return Counts{}, err
		}
		out.add(Category(cat), n)
	}
	return out, rows.Err()
}

// Increment upserts the category row, adding n to its total.
func (s *PostgresStore) Increment(ctx context.Context, cat Category, n int64) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("notify: nil store")
	}
	if !cat.Valid() {
		return fmt.Errorf("notify: unknown category %q", cat)
	}
	if n <= 0 {
		return fmt.Errorf("notify: non-positive increment %d", n)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (category, total)
		VALUES ($1, $2)
		ON CONFLICT (category) DO UPDATE
		SET total = notification_counts.total + EXCLUDED.total
	`, string(cat), n)
	return err
}
