package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultJWKSCacheTTL = 10 * time.Minute

var (
	errMissingToken          = errors.New("id token must not be empty")
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errKeyNotFound           = errors.New("signing key not found in JWKS")
	errUntrustedIssuer       = errors.New("token issuer not allowed")
	errMissingSubject        = errors.New("token missing subject claim")
	errMissingAudienceClaim  = errors.New("token missing audience claim")
	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errNoAllowedIssuers      = errors.New("no allowed issuers configured")
	errJWKSUnavailable       = errors.New("jwks document unavailable")
	ErrInvalidVerifierConfig = errors.New("auth: invalid id token verifier config")
)

// IDTokenVerifierConfig bundles configuration required to instantiate an IDTokenVerifier.
type IDTokenVerifierConfig struct {
	Audience       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// IDTokenClaims exposes validated claim data required by downstream services.
type IDTokenClaims struct {
	Audience      string
	Subject       string
	Issuer        string
	Expiry        time.Time
	IssuedAt      time.Time
	TokenID       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
}

// IDTokenVerifier verifies RS256 OpenID Connect ID tokens offline using a cached JWKS.
// Google and Apple both publish their signing keys this way.
type IDTokenVerifier struct {
	audience   string
	jwksURL    string
	logger     *zap.Logger
	httpClient *http.Client
	clock      func() time.Time
	keys       *keyring
	refreshes  singleflight.Group
	issuers    map[string]struct{}
}

// NewIDTokenVerifier constructs a verifier with validated configuration.
func NewIDTokenVerifier(cfg IDTokenVerifierConfig) (*IDTokenVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}

	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}

	issuers := make(map[string]struct{})
	for _, issuer := range cfg.AllowedIssuers {
		normalized := strings.TrimSpace(issuer)
		if normalized == "" {
			continue
		}
		issuers[normalized] = struct{}{}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errNoAllowedIssuers)
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultJWKSCacheTTL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &IDTokenVerifier{
		audience:   audience,
		jwksURL:    jwksURL,
		logger:     logger,
		httpClient: httpClient,
		clock:      clock,
		keys:       &keyring{ttl: cacheTTL},
		issuers:    issuers,
	}, nil
}

type idTokenPayload struct {
	Email         string       `json:"email"`
	EmailVerified flexibleBool `json:"email_verified"`
	Name          string       `json:"name"`
	GivenName     string       `json:"given_name"`
	FamilyName    string       `json:"family_name"`
	jwt.RegisteredClaims
}

// Verify validates the provided ID token and returns essential claims.
func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken string) (IDTokenClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return IDTokenClaims{}, errMissingToken
	}

	claims := &idTokenPayload{}
	token, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.lookupKey(ctx, keyID)
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return IDTokenClaims{}, err
	}
	if !token.Valid {
		return IDTokenClaims{}, errors.New("token signature invalid")
	}

	if _, allowed := v.issuers[claims.Issuer]; !allowed {
		return IDTokenClaims{}, errUntrustedIssuer
	}
	if claims.Subject == "" {
		return IDTokenClaims{}, errMissingSubject
	}
	if len(claims.Audience) == 0 {
		return IDTokenClaims{}, errMissingAudienceClaim
	}

	verified := IDTokenClaims{
		Audience:      claims.Audience[0],
		Subject:       claims.Subject,
		Issuer:        claims.Issuer,
		TokenID:       claims.ID,
		Email:         strings.TrimSpace(claims.Email),
		EmailVerified: bool(claims.EmailVerified),
		Name:          strings.TrimSpace(claims.Name),
		GivenName:     strings.TrimSpace(claims.GivenName),
		FamilyName:    strings.TrimSpace(claims.FamilyName),
	}
	if claims.ExpiresAt != nil {
		verified.Expiry = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		verified.IssuedAt = claims.IssuedAt.Time
	}
	return verified, nil
}

func (v *IDTokenVerifier) lookupKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	now := v.clock()
	if key, fresh := v.keys.find(keyID, now); fresh && key != nil {
		return key, nil
	}

	// Concurrent misses share one JWKS fetch.
	_, err, _ := v.refreshes.Do(v.jwksURL, func() (interface{}, error) {
		if key, fresh := v.keys.find(keyID, v.clock()); fresh && key != nil {
			return nil, nil
		}
		return nil, v.refreshKeys(ctx, now)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errJWKSUnavailable, err)
	}

	key, _ := v.keys.find(keyID, now)
	if key == nil {
		return nil, errKeyNotFound
	}
	return key, nil
}

func (v *IDTokenVerifier) refreshKeys(ctx context.Context, fetchedAt time.Time) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, http.NoBody)
	if err != nil {
		return err
	}
	response, err := v.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint answered %d", response.StatusCode)
	}

	var document jwksDocument
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	signingKeys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, candidate := range document.Keys {
		if !candidate.usableForSignatures() {
			continue
		}
		publicKey, err := candidate.rsaPublicKey()
		if err != nil {
			v.logger.Debug("ignoring jwks entry", zap.String("kid", candidate.KeyID), zap.Error(err))
			continue
		}
		signingKeys[candidate.KeyID] = publicKey
	}
	if len(signingKeys) == 0 {
		return errors.New("jwks holds no rsa signing keys")
	}

	v.keys.replace(signingKeys, fetchedAt)
	return nil
}

// flexibleBool accepts both JSON booleans and the "true"/"false" strings Apple emits.
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.ToLower(string(data)), `"`) {
	case "true":
		*b = true
	default:
		*b = false
	}
	return nil
}

// keyring holds the most recent JWKS snapshot for one issuer.
type keyring struct {
	mu        sync.RWMutex
	byKeyID   map[string]*rsa.PublicKey
	fetchedAt time.Time
	ttl       time.Duration
}

// find reports the key for keyID and whether the snapshot is still within its ttl.
func (r *keyring) find(keyID string, now time.Time) (*rsa.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.byKeyID == nil {
		return nil, false
	}
	return r.byKeyID[keyID], now.Sub(r.fetchedAt) <= r.ttl
}

func (r *keyring) replace(keys map[string]*rsa.PublicKey, fetchedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKeyID = keys
	r.fetchedAt = fetchedAt
}

type jwksDocument struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Use       string `json:"use"`
	Modulus   string `json:"n"`
	Exponent  string `json:"e"`
}

func (k jsonWebKey) usableForSignatures() bool {
	if k.KeyType != "RSA" || k.KeyID == "" {
		return false
	}
	if k.Use != "" && k.Use != "sig" {
		return false
	}
	return k.Algorithm == "" || k.Algorithm == jwt.SigningMethodRS256.Alg()
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	modulus, err := decodeBigEndian(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	exponent, err := decodeBigEndian(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if !exponent.IsInt64() || exponent.Int64() < 3 || exponent.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: modulus, E: int(exponent.Int64())}, nil
}

func decodeBigEndian(encoded string) (*big.Int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty value")
	}
	return new(big.Int).SetBytes(raw), nil
}
