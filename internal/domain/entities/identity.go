package entities

import "time"

// Identity links one external provider identity to one user. Exactly one row
// exists per (Provider, ExternalID); the provider tokens on it are rotated on
// every successful re-authentication.
type Identity struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Provider     string    `json:"provider" db:"provider_id"`         // "github", "google", "discord"
	ExternalID   string    `json:"external_id" db:"provider_user_id"` // provider-scoped user id
	AccessToken  string    `json:"-" db:"access_token"`               // provider access token, opaque
	RefreshToken string    `json:"-" db:"refresh_token"`              // provider refresh token, may be empty
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ProviderKey returns a formatted provider+external_id string for logging
func (i *Identity) ProviderKey() string {
	return i.Provider + ":" + i.ExternalID
}
