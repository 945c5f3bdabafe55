package repositories

import (
	"context"
	"time"

	"github.com/Morstis/hasura-auth/internal/domain/entities"
)

// RefreshTokenRepository defines the interface for refresh token data access
type RefreshTokenRepository interface {
	// Create persists a new refresh token
	Create(ctx context.Context, token *entities.RefreshToken) error

	// Consume atomically retrieves and destroys a refresh token so it
	// can never be exchanged twice. Returns ErrTokenNotFound when the
	// token does not exist.
	Consume(ctx context.Context, token string) (*entities.RefreshToken, error)

	// Delete removes a refresh token without returning it
	Delete(ctx context.Context, token string) error

	// DeleteExpired removes tokens that expired before the given time (cleanup job)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
