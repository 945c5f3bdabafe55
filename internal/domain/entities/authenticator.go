package entities

import "time"

// Authenticator is one registered WebAuthn credential, owned by exactly one
// user. CredentialID is the authenticator-assigned id, base64url-encoded;
// SignCount must never decrease for a given credential.
type Authenticator struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	CredentialID string    `json:"credential_id" db:"credential_id"`
	PublicKey    []byte    `json:"-" db:"public_key"`
	SignCount    int64     `json:"sign_count" db:"sign_count"`
	Nickname     string    `json:"nickname,omitempty" db:"nickname"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
