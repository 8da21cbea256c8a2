package auth

// INTERNAL API KEYS:
// Server-to-server callers (the image pipeline, admin scripts) authenticate
// with a shared key in the X-Internal-Key header. We store only its bcrypt
// hash in configuration (INTERNAL_API_KEY_HASH), so a leaked config file
// doesn't leak the key. Generate a hash with `go run ./cmd/keyhash`.
//
// bcrypt is deliberately slow. Hash format:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 iterations)
//	 version

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor, ~250ms on a modern server.
const defaultCost = 12

// ErrKeyMismatch is returned by Verify when the key doesn't match the hash.
var ErrKeyMismatch = errors.New("auth: key does not match")

// KeyHasher hashes and verifies API keys with bcrypt.
//
// It's a struct (not free functions) so tests can inject a low cost.
type KeyHasher struct {
	cost int
}

// NewKeyHasher creates a KeyHasher with the default cost (12).
func NewKeyHasher() *KeyHasher {
	return &KeyHasher{cost: defaultCost}
}

// NewKeyHasherForTest creates a KeyHasher with a custom cost. Use
// bcrypt.MinCost (4) in tests of other packages. Never in production.
func NewKeyHasherForTest(cost int) *KeyHasher {
	return &KeyHasher{cost: cost}
}

// Hash hashes a key. Keys over 72 bytes are rejected because bcrypt would
// silently truncate them.
func (k *KeyHasher) Hash(key string) (string, error) {
	if key == "" {
		return "", errors.New("auth: key must not be empty")
	}
	if len(key) > 72 {
		return "", errors.New("auth: key must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(key), k.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing key: %w", err)
	}
	return string(hashed), nil
}

// Verify checks key against a stored hash in constant time.
func (k *KeyHasher) Verify(hash, key string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrKeyMismatch
		}
		return fmt.Errorf("auth: comparing key hash: %w", err)
	}
	return nil
}
