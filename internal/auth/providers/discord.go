package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/Morstis/hasura-auth/internal/config"
	"github.com/Morstis/hasura-auth/internal/pkg/textutil"
	"github.com/Morstis/hasura-auth/internal/pkg/urlutil"
)

const discordAPIBase = "https://discord.com"

// discordEndpoint is golang.org/x/oauth2/endpoints.Discord, which first
// shipped in x/oauth2 v0.27.0; the pinned v0.26.0 predates it.
var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

var defaultDiscordScopes = []string{"identify", "email"}

// Discord authenticates users against Discord accounts.
type Discord struct {
	clientID     string
	clientSecret string
	scopes       []string

	apiBase string
	client  *http.Client
}

// NewDiscord builds a Discord provider from configuration.
func NewDiscord(cfg config.ProviderConfig) *Discord {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultDiscordScopes
	}
	return &Discord{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       scopes,
		apiBase:      discordAPIBase,
		client:       http.DefaultClient,
	}
}

func (p *Discord) ID() string { return "discord" }

func (p *Discord) Configured() bool {
	return p.clientID != "" && p.clientSecret != ""
}

func (p *Discord) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint:     discordEndpoint,
		RedirectURL:  redirectURL,
		Scopes:       p.scopes,
	}
}

func (p *Discord) AuthCodeOptions() []oauth2.AuthCodeOption { return nil }

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
	Email      string `json:"email"`
	Verified   bool   `json:"verified"`
	Locale     string `json:"locale"`
}

// FetchProfile reads the Discord /users/@me endpoint.
func (p *Discord) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	body, status, err := apiGet(ctx, p.client, "discord", "userinfo", p.apiBase+"/api/users/@me", accessToken, nil)
	if err != nil {
		return nil, err
	}
	if !is2xx(status) {
		return nil, &APIError{Provider: "discord", StatusCode: status, Body: body}
	}

	var user discordUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse discord user: %w", err)
	}

	name := user.GlobalName
	if name == "" {
		name = user.Username
	}

	return &Profile{
		ExternalID:    user.ID,
		Email:         user.Email,
		EmailVerified: user.Verified,
		DisplayName:   textutil.CleanName(name),
		AvatarURL:     urlutil.DiscordAvatarURL(user.ID, user.Avatar),
		Locale:        languageCode(user.Locale),
	}, nil
}

var _ Provider = (*Discord)(nil)
