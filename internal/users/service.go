package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
	"go.uber.org/zap"
)

const (
	opRegister        = "users.register"
	opAuthenticate    = "users.authenticate"
	opResolveExternal = "users.resolve_external"
	opUpdateProfile   = "users.update_profile"
	opChangePassword  = "users.change_password"
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Store      Store
	Hasher     *auth.PasswordHasher
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service registers, authenticates and resolves accounts across local and provider credentials.
type Service struct {
	store      Store
	hasher     *auth.PasswordHasher
	idProvider IDProvider
	now        func() time.Time
	logger     *zap.Logger
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("users: store required")
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = auth.NewPasswordHasher(0)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      cfg.Store,
		hasher:     hasher,
		idProvider: idProvider,
		now:        clock,
		logger:     logger,
	}, nil
}

// RegistrationRequest carries the fields accepted by local registration.
type RegistrationRequest struct {
	FirstName string
	LastName  string
	Handle    string
	Password  string
}

// Resolution is the outcome of resolving a provider identity.
// Created distinguishes a just-provisioned account from an existing one.
type Resolution struct {
	User    *User
	Created bool
}

// Register creates a password account. Every field is required at this boundary.
func (s *Service) Register(ctx context.Context, request RegistrationRequest) (*User, error) {
	handle := normalize(request.Handle)
	firstName := normalize(request.FirstName)
	lastName := normalize(request.LastName)

	if err := validateName("firstName", firstName, true); err != nil {
		return nil, err
	}
	if err := validateName("lastName", lastName, true); err != nil {
		return nil, err
	}
	if err := validateHandle(handle); err != nil {
		return nil, err
	}
	if request.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrValidation)
	}

	hash, err := s.hasher.Hash(request.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) || errors.Is(err, auth.ErrEmptyPassword) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		s.logError(opRegister, "hash_failed", err)
		return nil, err
	}

	user, err := s.newUser(handle, firstName, lastName)
	if err != nil {
		s.logError(opRegister, "id_generation_failed", err)
		return nil, err
	}
	user.PasswordHash = &hash

	if err := s.store.Create(ctx, user); err != nil {
		if !errors.Is(err, ErrConflict) {
			s.logError(opRegister, "insert_failed", err, zap.String("handle", handle))
		}
		return nil, err
	}
	return user, nil
}

// Authenticate checks a handle/password pair. Unknown handles, passwordless accounts
// and wrong passwords all yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, handle, password string) (*User, error) {
	handle = normalize(handle)
	if handle == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.FindByHandle(ctx, handle)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opAuthenticate, "lookup_failed", err)
		return nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ResolveExternal returns the account linked to the provider subject, creating a
// passwordless account on first contact.
func (s *Service) ResolveExternal(ctx context.Context, profile auth.ExternalProfile) (Resolution, error) {
	subject := normalize(profile.Subject)
	if subject == "" {
		return Resolution{}, fmt.Errorf("%w: provider subject is required", ErrValidation)
	}
	if _, err := externalIDColumn(profile.Provider); err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	existing, err := s.store.FindByExternalID(ctx, profile.Provider, subject)
	if err == nil {
		return Resolution{User: existing}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.logError(opResolveExternal, "lookup_failed", err, zap.String("provider", profile.Provider.String()))
		return Resolution{}, err
	}

	handle := defaultHandle(profile, subject)
	lastName := truncate(normalize(profile.LastName), maxNameLength)
	user, err := s.newUser(handle, defaultFirstName(profile, handle), lastName)
	if err != nil {
		s.logError(opResolveExternal, "id_generation_failed", err)
		return Resolution{}, err
	}
	if err := user.SetExternalID(profile.Provider, subject); err != nil {
		return Resolution{}, err
	}

	createErr := s.store.Create(ctx, user)
	if createErr == nil {
		s.logger.Info("account provisioned",
			zap.String("operation", opResolveExternal),
			zap.String("provider", profile.Provider.String()),
			zap.String("user_id", user.ID))
		return Resolution{User: user, Created: true}, nil
	}
	if !errors.Is(createErr, ErrConflict) {
		s.logError(opResolveExternal, "insert_failed", createErr, zap.String("provider", profile.Provider.String()))
		return Resolution{}, createErr
	}

	// A concurrent first login for the same subject may have won the insert.
	winner, err := s.store.FindByExternalID(ctx, profile.Provider, subject)
	if err == nil {
		return Resolution{User: winner}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.logError(opResolveExternal, "lookup_failed", err, zap.String("provider", profile.Provider.String()))
		return Resolution{}, err
	}
	if errors.Is(createErr, ErrHandleTaken) {
		s.logger.Warn("provider handle collides with existing account",
			zap.String("operation", opResolveExternal),
			zap.String("reason", "handle_collision"),
			zap.String("provider", profile.Provider.String()),
			zap.String("handle", handle))
		return Resolution{}, fmt.Errorf("%w: %q", ErrHandleCollision, handle)
	}
	return Resolution{}, createErr
}

// UpdateProfile changes handle and names. The password hash is never touched.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*User, error) {
	if update.Empty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}

	normalized := ProfileUpdate{}
	if update.Handle != nil {
		handle := normalize(*update.Handle)
		if err := validateHandle(handle); err != nil {
			return nil, err
		}
		normalized.Handle = &handle
	}
	if update.FirstName != nil {
		firstName := normalize(*update.FirstName)
		if err := validateName("firstName", firstName, true); err != nil {
			return nil, err
		}
		normalized.FirstName = &firstName
	}
	if update.LastName != nil {
		lastName := normalize(*update.LastName)
		if err := validateName("lastName", lastName, false); err != nil {
			return nil, err
		}
		normalized.LastName = &lastName
	}

	user, err := s.store.UpdateProfile(ctx, userID, normalized, s.now().UTC())
	if err != nil {
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
			s.logError(opUpdateProfile, "update_failed", err, zap.String("user_id", userID))
		}
		return nil, err
	}
	return user, nil
}

// ChangePassword sets a new password. When the account already has one, current must match.
// Passwordless provider accounts may set a first password without it.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if next == "" {
		return fmt.Errorf("%w: new password is required", ErrValidation)
	}

	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasPassword() && !s.hasher.Verify(current, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		s.logError(opChangePassword, "hash_failed", err, zap.String("user_id", userID))
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, userID, hash, s.now().UTC()); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logError(opChangePassword, "update_failed", err, zap.String("user_id", userID))
		}
		return err
	}
	return nil
}

// Get loads an account by id.
func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	if normalize(userID) == "" {
		return nil, ErrNotFound
	}
	return s.store.FindByID(ctx, userID)
}

// Search finds accounts whose handle or names contain query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]User, error) {
	query = normalize(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrValidation)
	}
	return s.store.Search(ctx, query, limit)
}

func (s *Service) newUser(handle, firstName, lastName string) (*User, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return &User{
		ID:        id,
		Handle:    handle,
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	s.logger.Error("users service failure", append(attrs, fields...)...)
}

// defaultHandle picks the verified provider email, then login, then "<provider>_<subject>".
func defaultHandle(profile auth.ExternalProfile, subject string) string {
	candidates := []string{profile.Login}
	if profile.EmailVerified {
		candidates = []string{profile.Email, profile.Login}
	}
	for _, candidate := range candidates {
		if value := normalize(candidate); value != "" {
			return truncate(value, maxHandleLength)
		}
	}
	return truncate(profile.Provider.String()+"_"+subject, maxHandleLength)
}

func defaultFirstName(profile auth.ExternalProfile, handle string) string {
	if firstName := normalize(profile.FirstName); firstName != "" {
		return truncate(firstName, maxNameLength)
	}
	localPart, _, _ := strings.Cut(handle, "@")
	return truncate(localPart, maxNameLength)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	runes := []rune(value)
	for len(string(runes)) > limit {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}
