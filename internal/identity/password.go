package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

const (
	minPasswordLen = 8
	maxPasswordLen = 256
)

// DefaultArgon2idParams returns a strong baseline for interactive logins.
// Parallelism is CPU-aware but clamped to [1..4] to keep resource usage
// predictable in containers.
func DefaultArgon2idParams() Argon2idParams {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Argon2idParams{
		MemoryKiB:   64 * 1024, // 64 MiB
		Iterations:  3,
		Parallelism: uint8(threads),
		SaltLength:  16,
		KeyLength:   32,
	}
}

// HashPassword returns a PHC-style Argon2id hash string:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
func HashPassword(passwordPlain string, p Argon2idParams) (string, error) {
	if len(passwordPlain) < minPasswordLen {
		return "", errors.New("password too short")
	}
	if len(passwordPlain) > maxPasswordLen {
		return "", errors.New("password too long")
	}

	p = sanitizeParams(p)

	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(passwordPlain), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// VerifyPassword checks a password against a PHC Argon2id hash.
// Returns (true, nil) for a match, (false, nil) for mismatch, and
// (false, ErrInvalidHash) for malformed or unreasonably costly hashes.
func VerifyPassword(passwordPlain, encodedPHC string) (bool, error) {
	if len(passwordPlain) > maxPasswordLen {
		return false, nil
	}

	params, salt, expected, err := decodePHC(encodedPHC)
	if err != nil {
		return false, err
	}

	// Anti-DoS boundary: refuse to verify attacker-controlled hash strings
	// with parameters wildly above our configured maximums.
	limits := DefaultArgon2idParams()
	if params.MemoryKiB > limits.MemoryKiB*2 || params.Iterations > limits.Iterations*2 {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(passwordPlain), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(expected)))

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

func sanitizeParams(p Argon2idParams) Argon2idParams {
	if p.Parallelism == 0 {
		p.Parallelism = 1
	}
	if p.Iterations == 0 {
		p.Iterations = 1
	}
	if p.MemoryKiB < 8*1024 {
		p.MemoryKiB = 8 * 1024
	}
	if p.SaltLength < 8 {
		p.SaltLength = 16
	}
	if p.KeyLength < 16 {
		p.KeyLength = 32
	}
	return p
}

func decodePHC(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" || parts[2] != "v=19" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := b64.DecodeString(parts[5])
	if err != nil || len(hash) < 16 || len(hash) > 128 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(hash)),
	}, salt, hash, nil
}
