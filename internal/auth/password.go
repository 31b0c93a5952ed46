package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmptyPassword indicates that a blank plaintext was supplied for hashing.
	ErrEmptyPassword = errors.New("auth: password must not be empty")
	// ErrPasswordTooLong mirrors the bcrypt 72-byte input limit.
	ErrPasswordTooLong = bcrypt.ErrPasswordTooLong
)

// PasswordHasher salts and hashes local account passwords with bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher constructs a hasher; costs outside the bcrypt range fall back to bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns a freshly salted hash of plaintext. Two calls with the same input never
// produce the same output.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches hash. Accounts without a password hash
// (provider-only sign-in) never verify.
func (h *PasswordHasher) Verify(plaintext string, hash *string) bool {
	if hash == nil || *hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(plaintext)) == nil
}
