package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names an external identity provider.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
	ProviderApple  Provider = "apple"
)

// Providers lists every supported external provider.
var Providers = []Provider{ProviderGoogle, ProviderGitHub, ProviderApple}

var (
	// ErrProvider indicates the provider rejected the credential (bad token, bad code).
	ErrProvider = errors.New("auth: identity provider rejected credential")
	// ErrProviderUnavailable indicates the provider could not be reached or answered with a server error.
	ErrProviderUnavailable = errors.New("auth: identity provider unavailable")
	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("auth: unknown identity provider")
)

// ParseProvider maps a provider name to a Provider.
func ParseProvider(value string) (Provider, error) {
	candidate := Provider(strings.ToLower(strings.TrimSpace(value)))
	for _, provider := range Providers {
		if provider == candidate {
			return provider, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, value)
}

// String returns the provider name.
func (p Provider) String() string {
	return string(p)
}

// ExternalProfile is what an identity provider asserts about the signed-in account.
// Email is only trusted as a handle when EmailVerified is set.
type ExternalProfile struct {
	Provider      Provider
	Subject       string
	Email         string
	EmailVerified bool
	Login         string
	FirstName     string
	LastName      string
}

// Exchanger turns a provider-issued credential (ID token or authorization code) into a verified profile.
type Exchanger interface {
	Provider() Provider
	Exchange(ctx context.Context, credential string) (ExternalProfile, error)
}

func providerRejected(provider Provider, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProvider, provider, err)
}

func providerUnavailable(provider Provider, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, provider, err)
}

// splitDisplayName derives first/last name parts from a single display name.
func splitDisplayName(name string) (string, string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
