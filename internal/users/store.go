package users

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// Store persists accounts. Uniqueness of handles and linked provider subjects is
// decided by the backend's unique indexes, never by a read-then-write check.
//
// Implementations return ErrNotFound for missing accounts and ErrHandleTaken or
// ErrExternalIDTaken for unique violations.
type Store interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByHandle(ctx context.Context, handle string) (*User, error)
	FindByExternalID(ctx context.Context, provider auth.Provider, subject string) (*User, error)
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate, updatedAt time.Time) (*User, error)
	UpdatePasswordHash(ctx context.Context, id string, hash string, updatedAt time.Time) error
	Search(ctx context.Context, query string, limit int) ([]User, error)
}

func clampSearchLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}
