package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const defaultGitHubAPIBaseURL = "https://api.github.com"

var (
	errMissingGitHubClient = errors.New("github client id and secret required")
	errMissingCode         = errors.New("authorization code must not be empty")
	errMissingGitHubID     = errors.New("github user payload missing id")
)

// GitHubExchangerConfig configures the GitHub authorization-code exchanger.
type GitHubExchangerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint and APIBaseURL default to github.com and are overridable for tests.
	Endpoint   oauth2.Endpoint
	APIBaseURL string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// GitHubExchanger trades an OAuth authorization code for the GitHub account profile.
type GitHubExchanger struct {
	oauthConfig *oauth2.Config
	apiBaseURL  string
	httpClient  *http.Client
	timeout     time.Duration
	logger      *zap.Logger
}

// NewGitHubExchanger validates configuration and constructs a GitHubExchanger.
func NewGitHubExchanger(cfg GitHubExchangerConfig) (*GitHubExchanger, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, errMissingGitHubClient
	}
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = github.Endpoint
	}
	apiBaseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultGitHubAPIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubExchanger{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     endpoint,
		},
		apiBaseURL: apiBaseURL,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Provider reports ProviderGitHub.
func (e *GitHubExchanger) Provider() Provider {
	return ProviderGitHub
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange redeems the authorization code and fetches the account profile.
func (e *GitHubExchanger) Exchange(ctx context.Context, code string) (ExternalProfile, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ExternalProfile{}, providerRejected(ProviderGitHub, errMissingCode)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	token, err := e.oauthConfig.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return ExternalProfile{}, providerRejected(ProviderGitHub, err)
		}
		if strings.Contains(err.Error(), "server response missing access_token") {
			return ExternalProfile{}, providerRejected(ProviderGitHub, err)
		}
		return ExternalProfile{}, providerUnavailable(ProviderGitHub, err)
	}

	client := e.oauthConfig.Client(ctx, token)

	var user githubUser
	if err := e.getJSON(ctx, client, "/user", &user); err != nil {
		return ExternalProfile{}, err
	}
	if user.ID == 0 {
		return ExternalProfile{}, providerRejected(ProviderGitHub, errMissingGitHubID)
	}

	email := strings.TrimSpace(user.Email)
	if email == "" {
		var emails []githubEmail
		if err := e.getJSON(ctx, client, "/user/emails", &emails); err != nil {
			// Without user:email scope the profile is still usable through the login.
			e.logger.Debug("github emails unavailable", zap.Error(err))
		}
		email = pickGitHubEmail(emails)
	}

	firstName, lastName := splitDisplayName(user.Name)
	// A public profile email is always verified on GitHub; pickGitHubEmail skips unverified ones.
	return ExternalProfile{
		Provider:      ProviderGitHub,
		Subject:       strconv.FormatInt(user.ID, 10),
		Email:         email,
		EmailVerified: email != "",
		Login:         strings.TrimSpace(user.Login),
		FirstName:     firstName,
		LastName:      lastName,
	}, nil
}

func (e *GitHubExchanger) getJSON(ctx context.Context, client *http.Client, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBaseURL+path, nil)
	if err != nil {
		return providerUnavailable(ProviderGitHub, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	response, err := client.Do(req)
	if err != nil {
		return providerUnavailable(ProviderGitHub, err)
	}
	defer func() { _ = response.Body.Close() }()

	switch {
	case response.StatusCode >= http.StatusInternalServerError:
		return providerUnavailable(ProviderGitHub, fmt.Errorf("github api %s returned status %d", path, response.StatusCode))
	case response.StatusCode != http.StatusOK:
		return providerRejected(ProviderGitHub, fmt.Errorf("github api %s returned status %d", path, response.StatusCode))
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return providerUnavailable(ProviderGitHub, err)
	}
	return nil
}

func pickGitHubEmail(emails []githubEmail) string {
	for _, email := range emails {
		if email.Primary && email.Verified {
			return strings.TrimSpace(email.Email)
		}
	}
	for _, email := range emails {
		if email.Verified {
			return strings.TrimSpace(email.Email)
		}
	}
	return ""
}
