package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

func TestParseProvider(t *testing.T) {
	for input, expected := range map[string]Provider{
		"google":   ProviderGoogle,
		" GitHub ": ProviderGitHub,
		"APPLE":    ProviderApple,
	} {
		provider, err := ParseProvider(input)
		if err != nil || provider != expected {
			t.Fatalf("ParseProvider(%q) = %q, %v", input, provider, err)
		}
	}
	if _, err := ParseProvider("facebook"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestGoogleExchangerMapsClaimsToProfile(t *testing.T) {
	fixture := newJWKSFixture(t)
	exchanger, err := NewGoogleExchanger(OIDCExchangerConfig{
		ClientID:   "test-client",
		JWKSURL:    fixture.server.URL,
		HTTPClient: fixture.server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	claims := baseClaims(googleIssuer)
	claims["sub"] = "g-42"
	claims["email"] = "ada@example.com"
	claims["email_verified"] = "false"
	claims["name"] = "Ada King Lovelace"

	profile, err := exchanger.Exchange(context.Background(), fixture.sign(t, claims))
	if err != nil {
		t.Fatalf("expected exchange to succeed: %v", err)
	}
	if profile.Provider != ProviderGoogle || profile.Subject != "g-42" {
		t.Fatalf("unexpected profile identity %#v", profile)
	}
	if profile.Email != "ada@example.com" || profile.EmailVerified {
		t.Fatalf("unexpected email %q (verified=%v)", profile.Email, profile.EmailVerified)
	}
	if profile.FirstName != "Ada" || profile.LastName != "King Lovelace" {
		t.Fatalf("expected display name split, got %q / %q", profile.FirstName, profile.LastName)
	}
}

func TestAppleExchangerRejectsGoogleIssuer(t *testing.T) {
	fixture := newJWKSFixture(t)
	exchanger, err := NewAppleExchanger(OIDCExchangerConfig{
		ClientID:   "test-client",
		JWKSURL:    fixture.server.URL,
		HTTPClient: fixture.server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = exchanger.Exchange(context.Background(), fixture.sign(t, baseClaims(googleIssuer)))
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}

	appleClaims := baseClaims(appleIssuer)
	appleClaims["email"] = "relay@privaterelay.appleid.com"
	appleClaims["email_verified"] = "true"
	profile, err := exchanger.Exchange(context.Background(), fixture.sign(t, appleClaims))
	if err != nil {
		t.Fatalf("expected apple token to verify: %v", err)
	}
	if profile.Provider != ProviderApple || profile.Subject != "user-123" || !profile.EmailVerified {
		t.Fatalf("unexpected profile %#v", profile)
	}
}

func TestOIDCExchangerRequiresClientID(t *testing.T) {
	if _, err := NewGoogleExchanger(OIDCExchangerConfig{}); !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected ErrInvalidVerifierConfig, got %v", err)
	}
}

type githubStub struct {
	tokenStatus  int
	tokenBody    map[string]any
	userBody     map[string]any
	emailsStatus int
	emailsBody   []map[string]any
}

func newGitHubStubServer(t *testing.T, stub githubStub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if stub.tokenStatus != 0 {
			w.WriteHeader(stub.tokenStatus)
		}
		_ = json.NewEncoder(w).Encode(stub.tokenBody)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-access" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stub.userBody)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		if stub.emailsStatus != 0 {
			w.WriteHeader(stub.emailsStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stub.emailsBody)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestGitHubExchanger(t *testing.T, server *httptest.Server) *GitHubExchanger {
	t.Helper()
	exchanger, err := NewGitHubExchanger(GitHubExchangerConfig{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   server.URL + "/login/oauth/authorize",
			TokenURL:  server.URL + "/login/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		APIBaseURL: server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return exchanger
}

func TestGitHubExchangerFetchesProfile(t *testing.T) {
	server := newGitHubStubServer(t, githubStub{
		tokenBody: map[string]any{"access_token": "gh-access", "token_type": "bearer"},
		userBody:  map[string]any{"id": 9001, "login": "octocat", "name": "Mona Octocat"},
		emailsBody: []map[string]any{
			{"email": "secondary@example.com", "primary": false, "verified": true},
			{"email": "mona@example.com", "primary": true, "verified": true},
		},
	})
	exchanger := newTestGitHubExchanger(t, server)

	profile, err := exchanger.Exchange(context.Background(), "code-123")
	if err != nil {
		t.Fatalf("expected exchange to succeed: %v", err)
	}
	if profile.Provider != ProviderGitHub || profile.Subject != "9001" {
		t.Fatalf("unexpected identity %#v", profile)
	}
	if profile.Login != "octocat" || profile.Email != "mona@example.com" || !profile.EmailVerified {
		t.Fatalf("unexpected login/email %#v", profile)
	}
	if profile.FirstName != "Mona" || profile.LastName != "Octocat" {
		t.Fatalf("unexpected name %#v", profile)
	}
}

func TestGitHubExchangerToleratesMissingEmailScope(t *testing.T) {
	server := newGitHubStubServer(t, githubStub{
		tokenBody:    map[string]any{"access_token": "gh-access", "token_type": "bearer"},
		userBody:     map[string]any{"id": 7, "login": "hubot"},
		emailsStatus: http.StatusForbidden,
	})
	exchanger := newTestGitHubExchanger(t, server)

	profile, err := exchanger.Exchange(context.Background(), "code-123")
	if err != nil {
		t.Fatalf("expected exchange to succeed: %v", err)
	}
	if profile.Email != "" || profile.EmailVerified || profile.Login != "hubot" {
		t.Fatalf("unexpected profile %#v", profile)
	}
}

func TestGitHubExchangerRejectsBadCode(t *testing.T) {
	server := newGitHubStubServer(t, githubStub{
		tokenBody: map[string]any{"error": "bad_verification_code", "error_description": "The code passed is incorrect or expired."},
	})
	exchanger := newTestGitHubExchanger(t, server)

	_, err := exchanger.Exchange(context.Background(), "stale")
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}

	_, err = exchanger.Exchange(context.Background(), " ")
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider for empty code, got %v", err)
	}
}

func TestGitHubExchangerReportsUnavailableProvider(t *testing.T) {
	server := newGitHubStubServer(t, githubStub{
		tokenStatus: http.StatusBadGateway,
		tokenBody:   map[string]any{"message": "upstream down"},
	})
	exchanger := newTestGitHubExchanger(t, server)

	_, err := exchanger.Exchange(context.Background(), "code-123")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestNewGitHubExchangerRequiresCredentials(t *testing.T) {
	if _, err := NewGitHubExchanger(GitHubExchangerConfig{ClientID: "id"}); err == nil {
		t.Fatalf("expected constructor error without client secret")
	}
}
