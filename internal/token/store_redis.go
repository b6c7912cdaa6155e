package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps grants in Redis with a native TTL, which makes token
// expiry free on the storage side and keeps multiple origin instances in
// agreement without sticky routing.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed grant store and verifies connectivity.
func NewRedisStore(ctx context.Context, addr, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("token: redis ping: %w", err)
	}

	return &RedisStore{client: client, prefix: "bearer:"}, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(hash string) string { return s.prefix + hash }

// Save persists a grant with a TTL matching the grant expiry.
func (s *RedisStore) Save(ctx context.Context, hash string, g Grant) error {
	ttl := time.Until(g.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token: grant already expired")
	}

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("token: marshal grant: %w", err)
	}
	return s.client.Set(ctx, s.key(hash), data, ttl).Err()
}

// Get loads a grant by token hash.
func (s *RedisStore) Get(ctx context.Context, hash string) (Grant, error) {
	val, err := s.client.Get(ctx, s.key(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return Grant{}, ErrTokenNotFound
	}
	if err != nil {
		return Grant{}, err
	}

	var g Grant
	if err := json.Unmarshal([]byte(val), &g); err != nil {
		return Grant{}, fmt.Errorf("token: unmarshal grant: %w", err)
	}
	return g, nil
}

// Delete removes a grant.
func (s *RedisStore) Delete(ctx context.Context, hash string) error {
	return s.client.Del(ctx, s.key(hash)).Err()
}
