package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionUserContextKey = "quill_session_user"
	bearerPrefix          = "Bearer "
)

var (
	// ErrUnauthorized indicates a missing or malformed Authorization header.
	ErrUnauthorized = errors.New("server: authorization header missing or invalid")
	// ErrUserGone indicates a valid token whose account has since been removed.
	ErrUserGone = errors.New("server: user no longer exists")
)

// authorizeRequest requires "Bearer <token>", validates the token and attaches the
// account as currently stored, not the snapshot embedded in the token.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) || len(header) == len(bearerPrefix) {
		respondError(c, http.StatusUnauthorized, "Invalid authorization header", "invalid_authorization")
		return
	}

	claims, err := h.tokens.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
			respondError(c, http.StatusUnauthorized, "Token expired", "token_expired")
			return
		}
		h.logger.Warn("token validation failed", zap.Error(err))
		respondError(c, http.StatusUnauthorized, "Invalid token", "token_invalid")
		return
	}

	user, err := h.users.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			h.logger.Info("session rejected", zap.String("user_id", claims.UserID), zap.Error(ErrUserGone))
			respondError(c, http.StatusUnauthorized, "User no longer exists", "user_gone")
			return
		}
		h.logger.Error("session user lookup failed", zap.String("user_id", claims.UserID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Authentication server error", "session_lookup_failed")
		return
	}

	c.Set(sessionUserContextKey, user)
	c.Next()
}

// sessionUser returns the account attached by authorizeRequest.
func sessionUser(c *gin.Context) (*users.User, bool) {
	value, ok := c.Get(sessionUserContextKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*users.User)
	return user, ok && user != nil
}

func (h *httpHandler) requireSessionUser(c *gin.Context) (*users.User, bool) {
	user, ok := sessionUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, ErrUnauthorized.Error(), "unauthorized")
	}
	return user, ok
}
