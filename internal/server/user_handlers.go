package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const authMethodPassword = "password"

type userPayload struct {
	ID              string    `json:"id"`
	Handle          string    `json:"handle"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName,omitempty"`
	HasPassword     bool      `json:"hasPassword"`
	LinkedProviders []string  `json:"linkedProviders"`
	CreatedAt       time.Time `json:"createdAt"`
}

func newUserPayload(user *users.User) userPayload {
	linked := make([]string, 0, len(auth.Providers))
	for _, provider := range auth.Providers {
		if user.ExternalID(provider) != "" {
			linked = append(linked, provider.String())
		}
	}
	return userPayload{
		ID:              user.ID,
		Handle:          user.Handle,
		FirstName:       user.FirstName,
		LastName:        user.LastName,
		HasPassword:     user.HasPassword(),
		LinkedProviders: linked,
		CreatedAt:       user.CreatedAt,
	}
}

type registerRequestPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Handle    string `json:"handle"`
	Password  string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "All fields are required", "invalid_request")
		return
	}
	if strings.TrimSpace(request.FirstName) == "" ||
		strings.TrimSpace(request.LastName) == "" ||
		strings.TrimSpace(request.Handle) == "" ||
		request.Password == "" {
		h.metrics.RecordAuthAttempt("register", metrics.OutcomeRejected)
		respondError(c, http.StatusBadRequest, "All fields are required", "missing_fields")
		return
	}

	user, err := h.users.Register(c.Request.Context(), users.RegistrationRequest{
		FirstName: request.FirstName,
		LastName:  request.LastName,
		Handle:    request.Handle,
		Password:  request.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, users.ErrConflict):
			h.metrics.RecordAuthAttempt("register", metrics.OutcomeRejected)
			respondError(c, http.StatusBadRequest, "Handle already taken", "handle_taken")
		case errors.Is(err, users.ErrValidation):
			h.metrics.RecordAuthAttempt("register", metrics.OutcomeRejected)
			respondError(c, http.StatusBadRequest, errorDetail(err, users.ErrValidation), "invalid_request")
		default:
			h.metrics.RecordAuthAttempt("register", metrics.OutcomeFailure)
			h.logger.Error("registration failed", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "Error registering user", "register_failed")
		}
		return
	}

	h.metrics.RecordAuthAttempt("register", metrics.OutcomeSuccess)
	c.JSON(http.StatusCreated, gin.H{"message": "User registered", "user": newUserPayload(user)})
}

type loginRequestPayload struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid credentials", "invalid_credentials")
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.Handle, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			h.metrics.RecordAuthAttempt(authMethodPassword, metrics.OutcomeRejected)
			respondError(c, http.StatusBadRequest, "Invalid credentials", "invalid_credentials")
			return
		}
		h.metrics.RecordAuthAttempt(authMethodPassword, metrics.OutcomeFailure)
		h.logger.Error("login failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Authentication server error", "login_failed")
		return
	}

	h.metrics.RecordAuthAttempt(authMethodPassword, metrics.OutcomeSuccess)
	h.respondWithSession(c, user, nil)
}

type providerLoginPayload struct {
	Token   string `json:"token"`
	Code    string `json:"code"`
	IDToken string `json:"id_token"`
}

// credential picks the field each provider's client sends.
func (p providerLoginPayload) credential(provider auth.Provider) string {
	switch provider {
	case auth.ProviderGitHub:
		return strings.TrimSpace(p.Code)
	case auth.ProviderApple:
		return strings.TrimSpace(p.IDToken)
	default:
		return strings.TrimSpace(p.Token)
	}
}

func (h *httpHandler) handleProviderLogin(c *gin.Context) {
	provider, err := auth.ParseProvider(c.Param("provider"))
	if err != nil {
		respondError(c, http.StatusNotFound, "Unknown identity provider", "unknown_provider")
		return
	}
	exchanger, ok := h.exchangers[provider]
	if !ok {
		respondError(c, http.StatusNotFound, "Unknown identity provider", "provider_disabled")
		return
	}
	rejectedMessage := "Invalid token"
	if provider == auth.ProviderGitHub {
		rejectedMessage = "GitHub login failed"
	}

	var request providerLoginPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.credential(provider) == "" {
		h.metrics.RecordAuthAttempt(provider.String(), metrics.OutcomeRejected)
		respondError(c, http.StatusBadRequest, rejectedMessage, "invalid_request")
		return
	}

	profile, err := exchanger.Exchange(c.Request.Context(), request.credential(provider))
	if err != nil {
		if errors.Is(err, auth.ErrProviderUnavailable) {
			h.metrics.RecordAuthAttempt(provider.String(), metrics.OutcomeFailure)
			h.logger.Error("identity provider unavailable", zap.String("provider", provider.String()), zap.Error(err))
			respondError(c, http.StatusBadGateway, "Identity provider unavailable", "provider_unavailable")
			return
		}
		h.metrics.RecordAuthAttempt(provider.String(), metrics.OutcomeRejected)
		h.logger.Warn("provider credential rejected", zap.String("provider", provider.String()), zap.Error(err))
		respondError(c, http.StatusBadRequest, rejectedMessage, "provider_rejected")
		return
	}

	resolution, err := h.users.ResolveExternal(c.Request.Context(), profile)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrHandleCollision):
			h.metrics.RecordAuthAttempt(provider.String(), metrics.OutcomeRejected)
			respondError(c, http.StatusBadRequest, "Handle already taken by another account", "handle_collision")
		case errors.Is(err, users.ErrValidation), errors.Is(err, users.ErrConflict):
			h.metrics.RecordAuthAttempt(provider.String(), metrics.OutcomeRejected)
			respondError(c, http.StatusBadRequest, rejectedMessage, "resolve_rejected")
		default:
			h.metrics.RecordAuthAttempt(provider.String(), metrics.OutcomeFailure)
			h.logger.Error("provider login failed", zap.String("provider", provider.String()), zap.Error(err))
			respondError(c, http.StatusInternalServerError, "Authentication server error", "login_failed")
		}
		return
	}

	h.metrics.RecordAuthAttempt(provider.String(), metrics.OutcomeSuccess)
	if resolution.Created {
		h.metrics.RecordAccountProvisioned(provider.String())
	}
	created := resolution.Created
	h.respondWithSession(c, resolution.User, &created)
}

func (h *httpHandler) respondWithSession(c *gin.Context, user *users.User, created *bool) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), user.SessionIdentity())
	if err != nil {
		h.logger.Error("failed to issue session token", zap.String("user_id", user.ID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Authentication server error", "token_issue_failed")
		return
	}
	response := gin.H{
		"token":     token,
		"expiresIn": expiresIn,
		"user":      newUserPayload(user),
	}
	if created != nil {
		response["created"] = *created
	}
	c.JSON(http.StatusOK, response)
}

type updateProfilePayload struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Handle    *string `json:"handle"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	current, ok := h.requireSessionUser(c)
	if !ok {
		return
	}
	var request updateProfilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "No fields to update", "invalid_request")
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), current.ID, users.ProfileUpdate{
		Handle:    request.Handle,
		FirstName: request.FirstName,
		LastName:  request.LastName,
	})
	if err != nil {
		switch {
		case errors.Is(err, users.ErrConflict):
			respondError(c, http.StatusBadRequest, "Handle already taken", "handle_taken")
		case errors.Is(err, users.ErrValidation):
			respondError(c, http.StatusBadRequest, errorDetail(err, users.ErrValidation), "invalid_request")
		case errors.Is(err, users.ErrNotFound):
			respondError(c, http.StatusUnauthorized, "User no longer exists", "user_gone")
		default:
			respondError(c, http.StatusInternalServerError, "Error updating user", "update_failed")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Profile updated", "user": newUserPayload(user)})
}

type changePasswordPayload struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *httpHandler) handleChangePassword(c *gin.Context) {
	current, ok := h.requireSessionUser(c)
	if !ok {
		return
	}
	var request changePasswordPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "New password is required", "invalid_request")
		return
	}

	err := h.users.ChangePassword(c.Request.Context(), current.ID, request.CurrentPassword, request.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidCredentials):
			respondError(c, http.StatusBadRequest, "Invalid credentials", "invalid_credentials")
		case errors.Is(err, users.ErrValidation):
			respondError(c, http.StatusBadRequest, errorDetail(err, users.ErrValidation), "invalid_request")
		case errors.Is(err, users.ErrNotFound):
			respondError(c, http.StatusUnauthorized, "User no longer exists", "user_gone")
		default:
			respondError(c, http.StatusInternalServerError, "Error changing password", "password_change_failed")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
}

func (h *httpHandler) handleSearchUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	found, err := h.users.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		if errors.Is(err, users.ErrValidation) {
			respondError(c, http.StatusBadRequest, errorDetail(err, users.ErrValidation), "invalid_request")
			return
		}
		h.logger.Error("user search failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Error searching users", "search_failed")
		return
	}

	payload := make([]userPayload, 0, len(found))
	for index := range found {
		payload = append(payload, newUserPayload(&found[index]))
	}
	c.JSON(http.StatusOK, gin.H{"users": payload})
}

func (h *httpHandler) handleGetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			respondError(c, http.StatusNotFound, "User not found", "not_found")
			return
		}
		h.logger.Error("user lookup failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Error fetching user", "lookup_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": newUserPayload(user)})
}
