// Package identity implements the Bluepeak user and credential foundation.
//
// It contains the user model shared by the three portals (admin, client,
// team), Argon2id password hashing, ULID id generation, and the store
// interfaces used by the HTTP layer.
//
// This package is intentionally dependency-light and security-first.
package identity
