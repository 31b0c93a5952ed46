package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/config"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/database"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/server"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenIssuer   = "quill-auth"
	tokenAudience = "quill-api"
)

type application struct {
	handler http.Handler
	closers []func()
}

func (a *application) Close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		a.closers[index]()
	}
}

type storage struct {
	users users.Store
	posts posts.Store
}

func buildApplication(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	app := &application{}

	stores, err := openStorage(ctx, app, appConfig, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Store:      stores.users,
		Hasher:     auth.NewPasswordHasher(appConfig.BcryptCost),
		IDProvider: users.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	realtime := server.NewRealtimeDispatcher()
	postService, err := posts.NewService(posts.ServiceConfig{
		Store:      stores.posts,
		Authors:    server.NewAuthorDirectory(userService),
		IDProvider: users.NewUUIDProvider(),
		Sanitizer:  posts.NewSanitizer(),
		Publisher:  realtime,
		Logger:     logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	exchangers, err := buildExchangers(appConfig, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	assistant, limiter, err := buildAssistant(ctx, appConfig, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if limiter != nil {
		app.closers = append(app.closers, limiter.Stop)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:          userService,
		Posts:          postService,
		Tokens:         tokens,
		Exchangers:     exchangers,
		Assistant:      assistant,
		ChatLimiter:    limiter,
		Realtime:       realtime,
		Metrics:        metrics.NewCollector(registry),
		MetricsHandler: metrics.Handler(registry),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.handler = handler
	return app, nil
}

func openStorage(ctx context.Context, app *application, appConfig config.AppConfig, logger *zap.Logger) (storage, error) {
	switch appConfig.DatabaseDriver {
	case config.DriverMongo:
		mongoStores, err := database.OpenMongo(ctx, appConfig.MongoURI, appConfig.MongoDatabase, logger)
		if err != nil {
			return storage{}, err
		}
		app.closers = append(app.closers, func() {
			_ = mongoStores.Close(context.Background())
		})
		return storage{users: mongoStores.Users, posts: mongoStores.Posts}, nil
	case config.DriverPostgres:
		db, err := database.OpenPostgres(appConfig.DatabaseDSN, logger)
		if err != nil {
			return storage{}, err
		}
		return gormStorage(app, db)
	case config.DriverSQLite:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return storage{}, err
		}
		return gormStorage(app, db)
	default:
		return storage{}, fmt.Errorf("unsupported database driver %q", appConfig.DatabaseDriver)
	}
}

func gormStorage(app *application, db *gorm.DB) (storage, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return storage{}, err
	}
	app.closers = append(app.closers, func() {
		_ = sqlDB.Close()
	})
	userStore, err := users.NewGormStore(db)
	if err != nil {
		return storage{}, err
	}
	postStore, err := posts.NewGormStore(db)
	if err != nil {
		return storage{}, err
	}
	return storage{users: userStore, posts: postStore}, nil
}

func buildExchangers(appConfig config.AppConfig, logger *zap.Logger) ([]auth.Exchanger, error) {
	var exchangers []auth.Exchanger
	if appConfig.GoogleEnabled() {
		google, err := auth.NewGoogleExchanger(auth.OIDCExchangerConfig{
			ClientID: appConfig.GoogleClientID,
			JWKSURL:  appConfig.GoogleJWKSURL,
			Timeout:  appConfig.ProviderTimeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		exchangers = append(exchangers, google)
	}
	if appConfig.AppleEnabled() {
		apple, err := auth.NewAppleExchanger(auth.OIDCExchangerConfig{
			ClientID: appConfig.AppleClientID,
			JWKSURL:  appConfig.AppleJWKSURL,
			Timeout:  appConfig.ProviderTimeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		exchangers = append(exchangers, apple)
	}
	if appConfig.GitHubEnabled() {
		github, err := auth.NewGitHubExchanger(auth.GitHubExchangerConfig{
			ClientID:     appConfig.GitHubClientID,
			ClientSecret: appConfig.GitHubClientSecret,
			RedirectURL:  appConfig.GitHubRedirectURL,
			Timeout:      appConfig.ProviderTimeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		exchangers = append(exchangers, github)
	}
	for _, exchanger := range exchangers {
		logger.Info("identity provider enabled", zap.String("provider", exchanger.Provider().String()))
	}
	return exchangers, nil
}

// buildAssistant returns nil values when no Gemini key is configured; the chat routes are then not mounted.
func buildAssistant(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*chat.Assistant, *chat.Limiter, error) {
	if appConfig.GeminiAPIKey == "" {
		logger.Warn("gemini api key not configured, chat assistant disabled")
		return nil, nil, nil
	}
	generator, err := chat.NewGeminiGenerator(ctx, chat.GeminiConfig{
		APIKey:  appConfig.GeminiAPIKey,
		Model:   appConfig.GeminiModel,
		Timeout: appConfig.GeminiTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	assistant, err := chat.NewAssistant(generator, logger)
	if err != nil {
		return nil, nil, err
	}
	limiter := chat.NewLimiter(chat.LimiterConfig{
		RatePerMinute: float64(appConfig.ChatRatePerMinute),
		Burst:         appConfig.ChatBurst,
	})
	return assistant, limiter, nil
}
