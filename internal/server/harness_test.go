package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/database"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testPostContent = "This post body is comfortably longer than the fifty character minimum."

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(duration)
}

type stubGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func (g *stubGenerator) promptCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type stubExchanger struct {
	provider auth.Provider
	profiles map[string]auth.ExternalProfile
	err      error
}

func (e stubExchanger) Provider() auth.Provider {
	return e.provider
}

func (e stubExchanger) Exchange(_ context.Context, credential string) (auth.ExternalProfile, error) {
	if e.err != nil {
		return auth.ExternalProfile{}, e.err
	}
	profile, ok := e.profiles[credential]
	if !ok {
		return auth.ExternalProfile{}, auth.ErrProvider
	}
	return profile, nil
}

type testApplication struct {
	handler    http.Handler
	users      *users.Service
	posts      *posts.Service
	tokens     *auth.TokenIssuer
	clock      *testClock
	realtime   *RealtimeDispatcher
	generator  *stubGenerator
	registry   *prometheus.Registry
	exchangers []auth.Exchanger
}

type testApplicationOptions struct {
	exchangers []auth.Exchanger
	chatBurst  int
}

func newTestApplication(t *testing.T, options testApplicationOptions) *testApplication {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "quill.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	clock := newTestClock()
	userStore, err := users.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to build user store: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{
		Store:  userStore,
		Hasher: auth.NewPasswordHasher(bcrypt.MinCost),
		Clock:  clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	postStore, err := posts.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to build post store: %v", err)
	}
	postService, err := posts.NewService(posts.ServiceConfig{
		Store:      postStore,
		Authors:    NewAuthorDirectory(userService),
		IDProvider: users.NewUUIDProvider(),
		Publisher:  dispatcher,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build post service: %v", err)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "quill-auth",
		Audience:      "quill-api",
		TokenTTL:      auth.DefaultTokenTTL,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	generator := &stubGenerator{reply: "Open the editor and press publish."}
	assistant, err := chat.NewAssistant(generator, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build assistant: %v", err)
	}
	burst := options.chatBurst
	if burst <= 0 {
		burst = 100
	}
	limiter := chat.NewLimiter(chat.LimiterConfig{RatePerMinute: 6, Burst: burst, Clock: clock.Now})
	t.Cleanup(limiter.Stop)

	registry := prometheus.NewRegistry()
	handler, err := NewHTTPHandler(Dependencies{
		Users:          userService,
		Posts:          postService,
		Tokens:         tokenIssuer,
		Exchangers:     options.exchangers,
		Assistant:      assistant,
		ChatLimiter:    limiter,
		Realtime:       dispatcher,
		Metrics:        metrics.NewCollector(registry),
		MetricsHandler: metrics.Handler(registry),
		AllowedOrigins: []string{"https://app.example.com"},
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testApplication{
		handler:    handler,
		users:      userService,
		posts:      postService,
		tokens:     tokenIssuer,
		clock:      clock,
		realtime:   dispatcher,
		generator:  generator,
		registry:   registry,
		exchangers: options.exchangers,
	}
}

func (app *testApplication) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	app.handler.ServeHTTP(recorder, request)
	return recorder
}

// registerAndLogin creates a password account and returns its id and a session token.
func (app *testApplication) registerAndLogin(t *testing.T, handle string) (string, string) {
	t.Helper()
	register := app.do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"firstName": "Test",
		"lastName":  "Writer",
		"handle":    handle,
		"password":  "secret123",
	})
	if register.Code != http.StatusCreated {
		t.Fatalf("register %s: unexpected status %d: %s", handle, register.Code, register.Body.String())
	}
	login := app.do(t, http.MethodPost, "/api/users/login", "", map[string]string{
		"handle":   handle,
		"password": "secret123",
	})
	if login.Code != http.StatusOK {
		t.Fatalf("login %s: unexpected status %d: %s", handle, login.Code, login.Body.String())
	}
	var session struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decodeBody(t, login, &session)
	return session.User.ID, session.Token
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func errorMessage(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Message string `json:"message"`
	}
	decodeBody(t, recorder, &payload)
	return payload.Message
}
