package repositories

import (
	"context"

	"github.com/Morstis/hasura-auth/internal/domain/entities"
)

// AuthenticatorRepository defines the interface for WebAuthn credential data access
type AuthenticatorRepository interface {
	// Create persists a new authenticator.
	// Returns ErrAlreadyExists when the credential ID is already registered.
	Create(ctx context.Context, authenticator *entities.Authenticator) error

	// ListByUserID retrieves all authenticators registered by a user
	ListByUserID(ctx context.Context, userID string) ([]*entities.Authenticator, error)

	// Delete removes an authenticator
	Delete(ctx context.Context, id string) error
}
