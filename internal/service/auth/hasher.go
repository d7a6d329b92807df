package auth

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Interface to create or verify password hashes
type PasswordHasher interface {
	// Hash returns a salted hash. Two calls for the same password differ.
	Hash(password string) (string, error)

	// Verify compares in constant time. A malformed hash is just a mismatch.
	Verify(password string, hash string) bool
}

// Bcrypt password hasher
// Password is pre-hashed with sha256 so inputs longer than 72 bytes are not truncated
type BcryptHasher struct {
	// Zero means bcrypt.DefaultCost
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	if err != nil {
		return "", fmt.Errorf("error while hashing password. Err: %w", err)
	}
	return string(hash), nil
}

func (h BcryptHasher) Verify(password string, hash string) bool {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hash), sum[:]) == nil
}
