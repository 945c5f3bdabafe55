package repositories

import (
	"context"

	"github.com/Morstis/hasura-auth/internal/domain/entities"
)

// IdentityRepository defines the interface for provider identity data access.
// Supports multi-provider sign-in where users can link several OAuth
// providers (GitHub, Google, Discord) to a single account.
type IdentityRepository interface {
	// Create creates a new identity link for a user.
	// Returns ErrAlreadyExists when the (provider, external ID) pair
	// is already linked.
	Create(ctx context.Context, identity *entities.Identity) error

	// GetByProviderAndExternalID retrieves an identity by provider and external ID.
	// This is the primary lookup during sign-in; returns (nil, nil) when
	// no such link exists.
	GetByProviderAndExternalID(ctx context.Context, provider, externalID string) (*entities.Identity, error)

	// ListByUserID retrieves all identities linked to a user
	ListByUserID(ctx context.Context, userID string) ([]*entities.Identity, error)

	// UpdateTokens refreshes the stored provider tokens on an existing link
	UpdateTokens(ctx context.Context, identityID, accessToken, refreshToken string) error

	// Delete removes an identity link
	Delete(ctx context.Context, identityID string) error
}
