package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const unmatchedRoute = "unmatched"

var (
	errMissingUsersService = errors.New("users service dependency required")
	errMissingPostsService = errors.New("posts service dependency required")
	errMissingTokenManager = errors.New("token manager dependency required")
)

// SessionTokens issues and validates session tokens.
type SessionTokens interface {
	IssueToken(ctx context.Context, identity auth.SessionIdentity) (string, int64, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP surface. Assistant, ChatLimiter, Realtime and MetricsHandler are optional;
// their routes are omitted when unset. Provider logins answer 404 for providers missing from Exchangers.
type Dependencies struct {
	Users          *users.Service
	Posts          *posts.Service
	Tokens         SessionTokens
	Exchangers     []auth.Exchanger
	Assistant      *chat.Assistant
	ChatLimiter    *chat.Limiter
	Realtime       *RealtimeDispatcher
	Metrics        metrics.Recorder
	MetricsHandler http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Posts == nil {
		return nil, errMissingPostsService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop()
	}

	exchangers := make(map[auth.Provider]auth.Exchanger, len(deps.Exchangers))
	for _, exchanger := range deps.Exchangers {
		if exchanger != nil {
			exchangers[exchanger.Provider()] = exchanger
		}
	}

	handler := &httpHandler{
		users:       deps.Users,
		posts:       deps.Posts,
		tokens:      deps.Tokens,
		exchangers:  exchangers,
		assistant:   deps.Assistant,
		chatLimiter: deps.ChatLimiter,
		realtime:    deps.Realtime,
		metrics:     recorder,
		logger:      logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.recordRequest)
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	api := router.Group("/api")

	userRoutes := api.Group("/users")
	userRoutes.POST("/register", handler.handleRegister)
	userRoutes.POST("/login", handler.handleLogin)
	userRoutes.POST("/login/:provider", handler.handleProviderLogin)
	guardedUsers := userRoutes.Group("", handler.authorizeRequest)
	guardedUsers.PATCH("/update", handler.handleUpdateProfile)
	guardedUsers.POST("/password", handler.handleChangePassword)
	guardedUsers.GET("/search", handler.handleSearchUsers)
	guardedUsers.GET("/:id", handler.handleGetUser)

	postRoutes := api.Group("/posts")
	postRoutes.GET("", handler.handleListPosts)
	if deps.Realtime != nil {
		postRoutes.GET("/events", handler.handlePostEvents)
	}
	postRoutes.GET("/:postId", handler.handleGetPost)
	guardedPosts := postRoutes.Group("", handler.authorizeRequest)
	guardedPosts.POST("", handler.handleCreatePost)
	guardedPosts.PUT("/:postId", handler.handleUpdatePost)
	guardedPosts.DELETE("/:postId", handler.handleDeletePost)
	guardedPosts.POST("/:postId/like", handler.handleToggleLike)

	if deps.Assistant != nil {
		chatRoutes := api.Group("/chat", handler.limitChat)
		chatRoutes.POST("", handler.handleChat)
		chatRoutes.POST("/paraphrase", handler.handleParaphrase)
		chatRoutes.GET("/tip", handler.handleTip)
	}

	return router, nil
}

type httpHandler struct {
	users       *users.Service
	posts       *posts.Service
	tokens      SessionTokens
	exchangers  map[auth.Provider]auth.Exchanger
	assistant   *chat.Assistant
	chatLimiter *chat.Limiter
	realtime    *RealtimeDispatcher
	metrics     metrics.Recorder
	logger      *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			origins = nil
			break
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func (h *httpHandler) recordRequest(c *gin.Context) {
	startedAt := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = unmatchedRoute
	}
	h.metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(startedAt))
}

func respondError(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message, "error": code})
}

// errorDetail returns the text a sentinel-wrapped error carries after the sentinel itself.
func errorDetail(err, sentinel error) string {
	message := err.Error()
	prefix := sentinel.Error() + ": "
	if index := strings.Index(message, prefix); index >= 0 {
		return message[index+len(prefix):]
	}
	return sentinel.Error()
}
