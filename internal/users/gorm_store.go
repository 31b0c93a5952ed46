package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("users: database connection required")

// GormStore persists accounts through gorm (SQLite or Postgres).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a gorm-backed Store. The schema is managed by the database package.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

// Create inserts a new account.
func (s *GormStore) Create(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return classifyGormError(err)
	}
	return nil
}

// FindByID loads an account by id.
func (s *GormStore) FindByID(ctx context.Context, id string) (*User, error) {
	return s.take(ctx, "id = ?", id)
}

// FindByHandle loads an account by handle.
func (s *GormStore) FindByHandle(ctx context.Context, handle string) (*User, error) {
	return s.take(ctx, "handle = ?", handle)
}

// FindByExternalID loads the account linked to a provider subject.
func (s *GormStore) FindByExternalID(ctx context.Context, provider auth.Provider, subject string) (*User, error) {
	column, err := externalIDColumn(provider)
	if err != nil {
		return nil, err
	}
	return s.take(ctx, column+" = ?", subject)
}

// UpdateProfile applies the supplied profile fields and returns the updated account.
func (s *GormStore) UpdateProfile(ctx context.Context, id string, update ProfileUpdate, updatedAt time.Time) (*User, error) {
	updates := map[string]interface{}{"updated_at": updatedAt}
	if update.Handle != nil {
		updates["handle"] = *update.Handle
	}
	if update.FirstName != nil {
		updates["first_name"] = *update.FirstName
	}
	if update.LastName != nil {
		updates["last_name"] = *update.LastName
	}

	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, classifyGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

// UpdatePasswordHash replaces the stored password hash.
func (s *GormStore) UpdatePasswordHash(ctx context.Context, id string, hash string, updatedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"password_hash": hash,
		"updated_at":    updatedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Search matches query against handle and names, case-insensitively.
func (s *GormStore) Search(ctx context.Context, query string, limit int) ([]User, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	var found []User
	err := s.db.WithContext(ctx).
		Where(`LOWER(handle) LIKE ? ESCAPE '\' OR LOWER(first_name) LIKE ? ESCAPE '\' OR LOWER(last_name) LIKE ? ESCAPE '\'`, pattern, pattern, pattern).
		Order("handle ASC").
		Limit(clampSearchLimit(limit)).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *GormStore) take(ctx context.Context, query string, args ...interface{}) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where(query, args...).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// classifyGormError maps SQLite and Postgres unique violations onto the store's conflict errors.
// Both drivers name the offending column or index in the message.
func classifyGormError(err error) error {
	if err == nil {
		return nil
	}
	message := strings.ToLower(err.Error())
	if !strings.Contains(message, "unique") && !strings.Contains(message, "duplicate key") {
		return err
	}
	if strings.Contains(message, "handle") {
		return fmt.Errorf("%w: %v", ErrHandleTaken, err)
	}
	return fmt.Errorf("%w: %v", ErrExternalIDTaken, err)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
