package config

import (
	"fmt"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Log       LogConfig        `yaml:"log"`
	Session   SessionConfig    `yaml:"session"`
	Auth      AuthConfig       `yaml:"auth"`
	Providers []ProviderConfig `yaml:"providers"`
	WebAuthn  WebAuthnConfig   `yaml:"webauthn"`
	Native    NativeConfig     `yaml:"native"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicURL is the externally reachable base URL of this service; OAuth
	// callback URLs are built from it
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"sslmode"` // disable, require, verify-ca, verify-full
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection used for the distributed
// flow-state store. An empty Addr selects the in-memory store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// SessionConfig holds the flow cookie configuration
type SessionConfig struct {
	// Secret is the single secret the cookie auth and encryption keys are
	// derived from; required
	Secret string `yaml:"secret"`
	Secure bool   `yaml:"secure"`
}

// AuthConfig holds authentication and account-resolution configuration
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// RefreshTokenExpiresIn is the refresh token lifetime in seconds
	RefreshTokenExpiresIn int `yaml:"refresh_token_expires_in"`
	// FlowExpiresIn bounds one redirect round-trip in seconds
	FlowExpiresIn int `yaml:"flow_expires_in"`

	// ClientURL is the default redirect target after a redirect-flow sign-in
	ClientURL string `yaml:"client_url"`
	// AllowedRedirectURLs is the allow-list a caller-supplied redirectTo is
	// checked against; ClientURL is always allowed
	AllowedRedirectURLs []string `yaml:"allowed_redirect_urls"`

	DefaultLocale  string   `yaml:"default_locale"`
	AllowedLocales []string `yaml:"allowed_locales"`
	DefaultRole    string   `yaml:"default_role"`
	AllowedRoles   []string `yaml:"allowed_roles"`

	Gravatar GravatarConfig `yaml:"gravatar"`

	// RequireVerifiedEmailForLinking gates email-based account linking on the
	// provider's email_verified assertion. Off by default: an unverified email
	// from a well-behaved provider still links, matching historical behavior.
	RequireVerifiedEmailForLinking bool `yaml:"require_verified_email_for_linking"`
}

// JWTConfig holds access token configuration
type JWTConfig struct {
	SigningKey string `yaml:"signing_key"`
	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int    `yaml:"expires_in"`
	Issuer    string `yaml:"issuer"`
}

// GravatarConfig controls the avatar fallback for profiles without one
type GravatarConfig struct {
	Enabled *bool  `yaml:"enabled"` // nil means enabled
	Default string `yaml:"default"`
	Rating  string `yaml:"rating"`
}

// ProviderConfig holds one OAuth provider's configuration
type ProviderConfig struct {
	Name         string   `yaml:"name"` // "github", "google", "discord"
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"` // overrides the provider defaults
}

// WebAuthnConfig holds relying-party configuration for credential registration
type WebAuthnConfig struct {
	Enabled       bool     `yaml:"enabled"`
	RPID          string   `yaml:"rp_id"`
	RPDisplayName string   `yaml:"rp_display_name"`
	RPOrigins     []string `yaml:"rp_origins"`
}

// NativeConfig holds the token-only sign-in flow configuration. The provider
// whose access tokens are accepted is fixed here, not chosen per request.
type NativeConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
}

// ConnectionString returns the PostgreSQL connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// ListenAddr returns the host:port the HTTP server binds to
func (s *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AccessTokenLifetime returns the JWT lifetime as a duration
func (a *AuthConfig) AccessTokenLifetime() time.Duration {
	return time.Duration(a.JWT.ExpiresIn) * time.Second
}

// RefreshTokenLifetime returns the refresh token lifetime as a duration
func (a *AuthConfig) RefreshTokenLifetime() time.Duration {
	return time.Duration(a.RefreshTokenExpiresIn) * time.Second
}

// FlowLifetime returns the in-flight flow TTL as a duration
func (a *AuthConfig) FlowLifetime() time.Duration {
	return time.Duration(a.FlowExpiresIn) * time.Second
}

// GravatarEnabled reports whether the gravatar fallback is on
func (g *GravatarConfig) GravatarEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}
