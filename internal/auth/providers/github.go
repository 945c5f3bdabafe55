package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/Morstis/hasura-auth/internal/config"
	"github.com/Morstis/hasura-auth/internal/pkg/textutil"
)

const githubAPIBase = "https://api.github.com"

var defaultGitHubScopes = []string{"user:email"}

// GitHub authenticates users against github.com.
type GitHub struct {
	clientID     string
	clientSecret string
	scopes       []string

	apiBase string
	client  *http.Client
}

// NewGitHub builds a GitHub provider from configuration.
func NewGitHub(cfg config.ProviderConfig) *GitHub {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultGitHubScopes
	}
	return &GitHub{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       scopes,
		apiBase:      githubAPIBase,
		client:       http.DefaultClient,
	}
}

func (p *GitHub) ID() string { return "github" }

func (p *GitHub) Configured() bool {
	return p.clientID != "" && p.clientSecret != ""
}

func (p *GitHub) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint:     endpoints.GitHub,
		RedirectURL:  redirectURL,
		Scopes:       p.scopes,
	}
}

func (p *GitHub) AuthCodeOptions() []oauth2.AuthCodeOption { return nil }

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchProfile reads /user and, when the public profile carries no email,
// falls back to /user/emails for the primary verified address.
func (p *GitHub) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	header := http.Header{"Accept": {"application/vnd.github+json"}}

	body, status, err := apiGet(ctx, p.client, "github", "userinfo", p.apiBase+"/user", accessToken, header)
	if err != nil {
		return nil, err
	}
	if !is2xx(status) {
		return nil, &APIError{Provider: "github", StatusCode: status, Body: body}
	}

	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse github user: %w", err)
	}

	profile := normalizeGitHubUser(user)

	if profile.Email == "" {
		emailsBody, emailsStatus, err := apiGet(ctx, p.client, "github", "emails", p.apiBase+"/user/emails", accessToken, header)
		if err == nil && is2xx(emailsStatus) {
			var emails []githubEmail
			if err := json.Unmarshal(emailsBody, &emails); err == nil {
				if email, ok := pickGitHubEmail(emails); ok {
					profile.Email = email
					profile.EmailVerified = true
				}
			}
		}
	}

	return profile, nil
}

func normalizeGitHubUser(user githubUser) *Profile {
	name := user.Name
	if name == "" {
		name = user.Login
	}
	profile := &Profile{
		ExternalID:  strconv.FormatInt(user.ID, 10),
		DisplayName: textutil.CleanName(name),
		AvatarURL:   user.AvatarURL,
	}
	if user.Email != "" {
		// GitHub only lets users publish an address they have verified.
		profile.Email = user.Email
		profile.EmailVerified = true
	}
	return profile
}

// pickGitHubEmail prefers the primary verified address, then any verified one.
func pickGitHubEmail(emails []githubEmail) (string, bool) {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true
		}
	}
	return "", false
}

var _ Provider = (*GitHub)(nil)
