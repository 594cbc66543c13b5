package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the work factor used for all stored hashes.
const DefaultBcryptCost = 12

// Hasher performs one-way password hashing. The zero value is not usable;
// construct with NewHasher.
type Hasher struct {
	cost int
}

// NewHasher returns a bcrypt-backed hasher. Costs outside the bcrypt range
// fall back to DefaultBcryptCost.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return Hasher{cost: cost}
}

// Hash returns a salted hash of the plaintext. Hashing the same plaintext
// twice yields different outputs; both verify.
func (h Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether the plaintext matches the hash. A malformed hash
// is treated as a mismatch, never an error.
func (h Hasher) Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
