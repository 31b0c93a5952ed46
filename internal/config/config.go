package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "QUILL"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DriverSQLite
	defaultDatabasePath    = "quill.db"
	defaultMongoDatabase   = "quill"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultTokenTTLMinutes = 60
	defaultBcryptCost      = 10
	defaultProviderTimeout = 10
	defaultGeminiModel     = "gemini-2.0-flash"
	defaultGeminiTimeout   = 20
	defaultChatRate        = 20
	defaultChatBurst       = 5
	defaultGoogleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
	defaultAppleJWKSURL    = "https://appleid.apple.com/auth/keys"
)

// Supported values for database.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabaseDriver     string
	DatabasePath       string
	DatabaseDSN        string
	MongoURI           string
	MongoDatabase      string
	SigningSecret      string
	TokenTTL           time.Duration
	BcryptCost         int
	GoogleClientID     string
	GoogleJWKSURL      string
	AppleClientID      string
	AppleJWKSURL       string
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string
	ProviderTimeout    time.Duration
	GeminiAPIKey       string
	GeminiModel        string
	GeminiTimeout      time.Duration
	ChatRatePerMinute  int
	ChatBurst          int
	AllowedOrigins     []string
	LogLevel           string
	LogFormat          string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("apple.jwks_url", defaultAppleJWKSURL)
	configViper.SetDefault("provider.timeout_seconds", defaultProviderTimeout)
	configViper.SetDefault("gemini.model", defaultGeminiModel)
	configViper.SetDefault("gemini.timeout_seconds", defaultGeminiTimeout)
	configViper.SetDefault("chat.rate_per_minute", defaultChatRate)
	configViper.SetDefault("chat.burst", defaultChatBurst)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		MongoURI:           configViper.GetString("mongo.uri"),
		MongoDatabase:      configViper.GetString("mongo.database"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		BcryptCost:         configViper.GetInt("auth.bcrypt_cost"),
		GoogleClientID:     strings.TrimSpace(configViper.GetString("google.client_id")),
		GoogleJWKSURL:      configViper.GetString("google.jwks_url"),
		AppleClientID:      strings.TrimSpace(configViper.GetString("apple.client_id")),
		AppleJWKSURL:       configViper.GetString("apple.jwks_url"),
		GitHubClientID:     strings.TrimSpace(configViper.GetString("github.client_id")),
		GitHubClientSecret: configViper.GetString("github.client_secret"),
		GitHubRedirectURL:  configViper.GetString("github.redirect_url"),
		ProviderTimeout:    time.Duration(configViper.GetInt("provider.timeout_seconds")) * time.Second,
		GeminiAPIKey:       configViper.GetString("gemini.api_key"),
		GeminiModel:        configViper.GetString("gemini.model"),
		GeminiTimeout:      time.Duration(configViper.GetInt("gemini.timeout_seconds")) * time.Second,
		ChatRatePerMinute:  configViper.GetInt("chat.rate_per_minute"),
		ChatBurst:          configViper.GetInt("chat.burst"),
		AllowedOrigins:     configViper.GetStringSlice("cors.allowed_origins"),
		LogLevel:           configViper.GetString("log.level"),
		LogFormat:          configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c AppConfig) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// AppleEnabled reports whether Sign in with Apple is configured.
func (c AppConfig) AppleEnabled() bool {
	return c.AppleClientID != ""
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (c AppConfig) GitHubEnabled() bool {
	return c.GitHubClientID != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("mongo.uri is required for the mongo driver")
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			return fmt.Errorf("mongo.database is required")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.GitHubEnabled() && strings.TrimSpace(c.GitHubClientSecret) == "" {
		return fmt.Errorf("github.client_secret is required when github.client_id is set")
	}
	if c.ChatRatePerMinute <= 0 || c.ChatBurst <= 0 {
		return fmt.Errorf("chat.rate_per_minute and chat.burst must be positive")
	}
	return nil
}
