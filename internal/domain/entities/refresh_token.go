package entities

import "time"

// RefreshToken is an application session token minted after a successful
// sign-in. The token value itself is the primary key; exchanging it rotates
// it, so a value is usable at most once.
type RefreshToken struct {
	Token     string    `json:"token" db:"token"`
	UserID    string    `json:"user_id" db:"user_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the token is past its lifetime
func (t *RefreshToken) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}
