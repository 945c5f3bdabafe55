package repositories

import (
	"context"

	"github.com/Morstis/hasura-auth/internal/domain/entities"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	// Create a new user
	Create(ctx context.Context, user *entities.User) error

	// GetByID retrieves a user by their ID
	GetByID(ctx context.Context, id string) (*entities.User, error)

	// GetByEmail retrieves a user by their email address.
	// Returns (nil, nil) when no user has that email.
	GetByEmail(ctx context.Context, email string) (*entities.User, error)

	// Update an existing user's profile fields
	Update(ctx context.Context, user *entities.User) error

	// SetCurrentChallenge stores a pending WebAuthn challenge for the user.
	// An empty challenge clears it.
	SetCurrentChallenge(ctx context.Context, userID, challenge string) error

	// UpdateLastSeen updates the user's last seen timestamp
	UpdateLastSeen(ctx context.Context, userID string) error

	// Delete removes a user. Used to roll back a freshly created user
	// when the first identity link loses a race.
	Delete(ctx context.Context, id string) error
}
