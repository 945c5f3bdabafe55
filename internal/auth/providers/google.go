package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/Morstis/hasura-auth/internal/config"
	"github.com/Morstis/hasura-auth/internal/pkg/textutil"
)

const googleUserInfoBase = "https://www.googleapis.com"

var defaultGoogleScopes = []string{"openid", "email", "profile"}

// Google authenticates users against Google accounts.
type Google struct {
	clientID     string
	clientSecret string
	scopes       []string

	apiBase string
	client  *http.Client
}

// NewGoogle builds a Google provider from configuration.
func NewGoogle(cfg config.ProviderConfig) *Google {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultGoogleScopes
	}
	return &Google{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       scopes,
		apiBase:      googleUserInfoBase,
		client:       http.DefaultClient,
	}
}

func (p *Google) ID() string { return "google" }

func (p *Google) Configured() bool {
	return p.clientID != "" && p.clientSecret != ""
}

func (p *Google) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint:     endpoints.Google,
		RedirectURL:  redirectURL,
		Scopes:       p.scopes,
	}
}

// AuthCodeOptions requests offline access so Google issues a refresh token.
func (p *Google) AuthCodeOptions() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
}

type googleUser struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
	Locale        string `json:"locale"`
}

// FetchProfile reads the OpenID Connect userinfo endpoint.
func (p *Google) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	body, status, err := apiGet(ctx, p.client, "google", "userinfo", p.apiBase+"/oauth2/v3/userinfo", accessToken, nil)
	if err != nil {
		return nil, err
	}
	if !is2xx(status) {
		return nil, &APIError{Provider: "google", StatusCode: status, Body: body}
	}

	var user googleUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse google userinfo: %w", err)
	}

	return &Profile{
		ExternalID:    user.Sub,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		DisplayName:   textutil.CleanName(user.Name),
		AvatarURL:     user.Picture,
		Locale:        languageCode(user.Locale),
	}, nil
}

// languageCode reduces a BCP 47 tag like "en-US" to its two-letter language.
func languageCode(locale string) string {
	if len(locale) < 2 {
		return ""
	}
	return locale[:2]
}

var _ Provider = (*Google)(nil)
