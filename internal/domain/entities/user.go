package entities

import (
	"time"
)

// User is the identity root one or more provider identities resolve to.
// CurrentChallenge holds the most recently issued, not-yet-consumed WebAuthn
// registration challenge; at most one is outstanding per user.
type User struct {
	ID               string                 `json:"id" db:"id"`
	Email            string                 `json:"email,omitempty" db:"email"`
	DisplayName      string                 `json:"display_name" db:"display_name"`
	AvatarURL        string                 `json:"avatar_url,omitempty" db:"avatar_url"`
	Locale           string                 `json:"locale" db:"locale"`
	DefaultRole      string                 `json:"default_role" db:"default_role"`
	Roles            []string               `json:"roles" db:"-"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CurrentChallenge string                 `json:"-" db:"current_challenge"`
	Disabled         bool                   `json:"disabled" db:"disabled"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at" db:"updated_at"`
	LastSeen         *time.Time             `json:"last_seen,omitempty" db:"last_seen"`
}

// Active returns true if the user may sign in
func (u *User) Active() bool {
	return !u.Disabled
}

// HasRole checks if the user's allowed roles include role
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
