package users

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
	"github.com/google/uuid"
)

const (
	maxHandleLength = 190
	maxNameLength   = 120
)

var (
	// ErrValidation indicates caller-supplied fields failed validation.
	ErrValidation = errors.New("users: validation failed")
	// ErrConflict is the parent of every uniqueness violation.
	ErrConflict = errors.New("users: conflict")
	// ErrHandleTaken indicates another account already owns the handle.
	ErrHandleTaken = fmt.Errorf("%w: handle already taken", ErrConflict)
	// ErrExternalIDTaken indicates another account is already linked to the provider subject.
	ErrExternalIDTaken = fmt.Errorf("%w: external id already linked", ErrConflict)
	// ErrHandleCollision indicates a provider-derived default handle belongs to a different account.
	ErrHandleCollision = fmt.Errorf("%w: provider handle collides with an existing account", ErrConflict)
	// ErrInvalidCredentials covers unknown handle, passwordless account and wrong password alike.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrNotFound indicates the account does not exist.
	ErrNotFound = errors.New("users: not found")
)

// User is a persisted account reachable through a local password and/or linked provider identities.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:64" bson:"_id"`
	Handle       string    `gorm:"column:handle;size:190;not null;uniqueIndex:idx_users_handle" bson:"handle"`
	FirstName    string    `gorm:"column:first_name;size:120;not null" bson:"first_name"`
	LastName     string    `gorm:"column:last_name;size:120" bson:"last_name,omitempty"`
	PasswordHash *string   `gorm:"column:password_hash;size:255" bson:"password_hash,omitempty"`
	GoogleID     *string   `gorm:"column:google_id;size:190;uniqueIndex:idx_users_google_id" bson:"google_id,omitempty"`
	GitHubID     *string   `gorm:"column:github_id;size:190;uniqueIndex:idx_users_github_id" bson:"github_id,omitempty"`
	AppleID      *string   `gorm:"column:apple_id;size:190;uniqueIndex:idx_users_apple_id" bson:"apple_id,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" bson:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" bson:"updated_at"`
}

// TableName exposes the table backing accounts.
func (User) TableName() string {
	return "users"
}

// ExternalID returns the subject linked for provider, or "" when none is linked.
func (u *User) ExternalID(provider auth.Provider) string {
	if field := u.externalIDField(provider); field != nil && *field != nil {
		return **field
	}
	return ""
}

// SetExternalID links subject for provider. An empty subject unlinks the provider.
func (u *User) SetExternalID(provider auth.Provider, subject string) error {
	field := u.externalIDField(provider)
	if field == nil {
		return fmt.Errorf("%w: %q", auth.ErrUnknownProvider, provider)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		*field = nil
		return nil
	}
	*field = &subject
	return nil
}

// HasPassword reports whether a local password is set.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// SessionIdentity returns the snapshot embedded into session tokens.
func (u *User) SessionIdentity() auth.SessionIdentity {
	return auth.SessionIdentity{
		ID:        u.ID,
		Handle:    u.Handle,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func (u *User) externalIDField(provider auth.Provider) **string {
	switch provider {
	case auth.ProviderGoogle:
		return &u.GoogleID
	case auth.ProviderGitHub:
		return &u.GitHubID
	case auth.ProviderApple:
		return &u.AppleID
	default:
		return nil
	}
}

// externalIDColumn maps a provider to the column (and bson field) storing its subject.
func externalIDColumn(provider auth.Provider) (string, error) {
	switch provider {
	case auth.ProviderGoogle:
		return "google_id", nil
	case auth.ProviderGitHub:
		return "github_id", nil
	case auth.ProviderApple:
		return "apple_id", nil
	default:
		return "", fmt.Errorf("%w: %q", auth.ErrUnknownProvider, provider)
	}
}

// ProfileUpdate carries the optional profile fields a user may change.
// Nil fields are left untouched.
type ProfileUpdate struct {
	Handle    *string
	FirstName *string
	LastName  *string
}

// Empty reports whether no field was supplied.
func (p ProfileUpdate) Empty() bool {
	return p.Handle == nil && p.FirstName == nil && p.LastName == nil
}

// IDProvider issues identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func validateHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("%w: handle is required", ErrValidation)
	}
	if len(handle) > maxHandleLength {
		return fmt.Errorf("%w: handle exceeds %d characters", ErrValidation, maxHandleLength)
	}
	return nil
}

func validateName(field, value string, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if len(value) > maxNameLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, field, maxNameLength)
	}
	return nil
}
