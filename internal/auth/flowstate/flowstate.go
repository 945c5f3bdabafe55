package flowstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a flow does not exist, already completed,
// or expired. Callers cannot tell these apart, which keeps replayed
// callbacks indistinguishable from stale ones.
var ErrNotFound = errors.New("flow not found")

// FlowState carries one in-flight sign-in between the initiating request
// and the provider callback. It stores the caller's options verbatim;
// defaults are applied later, at account resolution.
type FlowState struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	RedirectTo   string    `json:"redirect_to"`
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	Options      Options   `json:"options"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Options are the signup options captured when a flow starts. Nil fields
// mean the caller did not specify a value.
type Options struct {
	DisplayName  *string                `json:"display_name,omitempty"`
	Locale       *string                `json:"locale,omitempty"`
	DefaultRole  *string                `json:"default_role,omitempty"`
	AllowedRoles []string               `json:"allowed_roles,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Expired reports whether the flow's deadline has passed.
func (f *FlowState) Expired() bool {
	return time.Now().After(f.ExpiresAt)
}

// NewID generates a cryptographically secure flow ID.
// 32 bytes = 256 bits of entropy.
func NewID() (string, error) {
	const size = 32

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate flow id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Store defines how in-flight flows are stored and retrieved.
type Store interface {
	// Put saves a flow until its expiry.
	Put(ctx context.Context, flow *FlowState) error

	// Take retrieves a flow and destroys it in the same step, so a flow
	// can complete at most once. Returns ErrNotFound for missing,
	// consumed, or expired flows.
	Take(ctx context.Context, id string) (*FlowState, error)

	// Delete removes a flow without returning it.
	Delete(ctx context.Context, id string) error
}
