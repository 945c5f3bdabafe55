package repositories

import "errors"

// Domain-specific repository errors
var (
	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("user not found")

	// ErrIdentityNotFound is returned when a provider identity link cannot be found
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrAuthenticatorNotFound is returned when a WebAuthn credential cannot be found
	ErrAuthenticatorNotFound = errors.New("authenticator not found")

	// ErrTokenNotFound is returned when a refresh token cannot be found or has expired
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrAlreadyExists is returned when an insert loses to a uniqueness
	// constraint; callers racing on the same external identity retry it as
	// "link already exists"
	ErrAlreadyExists = errors.New("row already exists")
)
