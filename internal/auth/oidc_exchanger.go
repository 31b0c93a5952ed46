package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProviderTimeout = 10 * time.Second

	googleIssuer    = "https://accounts.google.com"
	googleIssuerAlt = "accounts.google.com"
	googleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"

	appleIssuer  = "https://appleid.apple.com"
	appleJWKSURL = "https://appleid.apple.com/auth/keys"
)

// OIDCExchangerConfig configures an ID-token based provider (Google, Apple).
type OIDCExchangerConfig struct {
	ClientID   string
	JWKSURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// OIDCExchanger verifies provider ID tokens and maps their claims to an ExternalProfile.
type OIDCExchanger struct {
	provider Provider
	verifier *IDTokenVerifier
	timeout  time.Duration
}

// NewGoogleExchanger verifies Google Sign-In ID tokens.
func NewGoogleExchanger(cfg OIDCExchangerConfig) (*OIDCExchanger, error) {
	return newOIDCExchanger(ProviderGoogle, cfg, googleJWKSURL, []string{googleIssuer, googleIssuerAlt})
}

// NewAppleExchanger verifies Sign in with Apple ID tokens.
func NewAppleExchanger(cfg OIDCExchangerConfig) (*OIDCExchanger, error) {
	return newOIDCExchanger(ProviderApple, cfg, appleJWKSURL, []string{appleIssuer})
}

func newOIDCExchanger(provider Provider, cfg OIDCExchangerConfig, defaultJWKS string, issuers []string) (*OIDCExchanger, error) {
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = defaultJWKS
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	verifier, err := NewIDTokenVerifier(IDTokenVerifierConfig{
		Audience:       cfg.ClientID,
		JWKSURL:        jwksURL,
		AllowedIssuers: issuers,
		HTTPClient:     cfg.HTTPClient,
		Logger:         logger.With(zap.String("provider", provider.String())),
		Clock:          cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &OIDCExchanger{provider: provider, verifier: verifier, timeout: timeout}, nil
}

// Provider reports which provider this exchanger serves.
func (e *OIDCExchanger) Provider() Provider {
	return e.provider
}

// Exchange verifies the ID token and returns the asserted profile.
func (e *OIDCExchanger) Exchange(ctx context.Context, idToken string) (ExternalProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	claims, err := e.verifier.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, errJWKSUnavailable) {
			return ExternalProfile{}, providerUnavailable(e.provider, err)
		}
		return ExternalProfile{}, providerRejected(e.provider, err)
	}

	firstName, lastName := claims.GivenName, claims.FamilyName
	if firstName == "" && lastName == "" {
		firstName, lastName = splitDisplayName(claims.Name)
	}

	return ExternalProfile{
		Provider:      e.provider,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.Email != "" && claims.EmailVerified,
		FirstName:     firstName,
		LastName:      lastName,
	}, nil
}
