package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

// userInfoTimeout bounds every outbound call to a provider API.
const userInfoTimeout = 10 * time.Second

// Profile is the normalized identity a provider reports for a user.
// Providers return identity facts only; account lookup, linking, and
// session management happen elsewhere.
type Profile struct {
	// ExternalID is the provider's stable identifier for the user.
	// A profile without one is unusable.
	ExternalID string

	// Email as reported by the provider. May be empty.
	Email string

	// EmailVerified reports whether the provider vouches for the email.
	EmailVerified bool

	// DisplayName is the human-readable name, already sanitized to plain text.
	DisplayName string

	// AvatarURL points at the user's picture, if the provider has one.
	AvatarURL string

	// Locale is a two-letter language code, if the provider reports one.
	Locale string
}

// Provider is the contract every external identity provider implements.
type Provider interface {
	// ID returns the provider identifier (e.g. "github", "google", "discord").
	ID() string

	// Configured reports whether the provider has usable OAuth credentials.
	// An enabled provider without credentials stays registered so callers
	// can distinguish "misconfigured" from "unknown".
	Configured() bool

	// OAuthConfig returns the OAuth2 configuration bound to the given
	// redirect URL. State and PKCE parameters are supplied by the caller.
	OAuthConfig(redirectURL string) *oauth2.Config

	// AuthCodeOptions returns provider-specific options for the
	// authorization URL, beyond state and PKCE.
	AuthCodeOptions() []oauth2.AuthCodeOption

	// FetchProfile retrieves the user's identity from the provider API
	// using a bearer access token. A non-2xx provider response is
	// returned as *APIError with the provider's payload intact.
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// APIError is a non-2xx response from a provider API. The body is kept
// verbatim so callers can pass the provider's own error payload through.
type APIError struct {
	Provider   string
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned status %d", e.Provider, e.StatusCode)
}

// apiGet performs an authenticated GET against a provider API and returns
// the raw response body and status code. Errors are transport failures
// only; non-2xx statuses are the caller's to interpret.
func apiGet(ctx context.Context, client *http.Client, provider, call, url, accessToken string, header http.Header) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, userInfoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build %s request: %w", provider, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		metrics.RecordProviderCall(provider, call, 0, time.Since(start))
		return nil, 0, fmt.Errorf("failed to call %s API: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	metrics.RecordProviderCall(provider, call, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read %s response: %w", provider, err)
	}
	return body, resp.StatusCode, nil
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
