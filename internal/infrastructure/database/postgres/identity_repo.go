package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
	"github.com/Morstis/hasura-auth/internal/pkg/idgen"
	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

// IdentityRepository implements the IdentityRepository interface for PostgreSQL
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository creates a new PostgreSQL identity repository
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create creates a new identity link.
// Returns repositories.ErrAlreadyExists when the (provider, external id)
// pair or the (user, provider) pair is already linked.
func (r *IdentityRepository) Create(ctx context.Context, identity *entities.Identity) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("identity", "create", time.Since(start), 1, err)
	}()

	if identity.ID == "" {
		identity.ID = idgen.GenerateID()
	}

	now := time.Now()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	query := `
		INSERT INTO user_providers (
			id, user_id, provider_id, provider_user_id,
			access_token, refresh_token, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		identity.ID,
		identity.UserID,
		identity.Provider,
		identity.ExternalID,
		identity.AccessToken,
		identity.RefreshToken,
		identity.CreatedAt,
		identity.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			err = repositories.ErrAlreadyExists
			return err
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}

	return nil
}

// GetByProviderAndExternalID retrieves an identity by provider and external ID.
// This is the primary lookup during sign-in; returns (nil, nil) when no such
// link exists.
func (r *IdentityRepository) GetByProviderAndExternalID(ctx context.Context, provider, externalID string) (*entities.Identity, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("identity", "get_by_provider", time.Since(start), rowCount, err)
	}()

	var identity entities.Identity
	query := `
		SELECT id, user_id, provider_id, provider_user_id,
		       access_token, refresh_token, created_at, updated_at
		FROM user_providers
		WHERE provider_id = $1 AND provider_user_id = $2
		LIMIT 1
	`

	err = r.db.GetContext(ctx, &identity, query, provider, externalID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identity by provider and external ID: %w", err)
	}

	rowCount = 1
	return &identity, nil
}

// ListByUserID retrieves all identities linked to a user
func (r *IdentityRepository) ListByUserID(ctx context.Context, userID string) ([]*entities.Identity, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("identity", "list_by_user", time.Since(start), rowCount, err)
	}()

	var identities []*entities.Identity
	query := `
		SELECT id, user_id, provider_id, provider_user_id,
		       access_token, refresh_token, created_at, updated_at
		FROM user_providers
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	err = r.db.SelectContext(ctx, &identities, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities by user ID: %w", err)
	}

	rowCount = int64(len(identities))
	return identities, nil
}

// UpdateTokens refreshes the stored provider tokens on an existing link
func (r *IdentityRepository) UpdateTokens(ctx context.Context, identityID, accessToken, refreshToken string) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("identity", "update_tokens", time.Since(start), rowsAffected, err)
	}()

	query := `
		UPDATE user_providers
		SET access_token = $1,
		    refresh_token = $2,
		    updated_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, time.Now(), identityID)
	if err != nil {
		return fmt.Errorf("failed to update identity tokens: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = repositories.ErrIdentityNotFound
		return err
	}

	return nil
}

// Delete removes an identity link
func (r *IdentityRepository) Delete(ctx context.Context, identityID string) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("identity", "delete", time.Since(start), rowsAffected, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM user_providers WHERE id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = repositories.ErrIdentityNotFound
		return err
	}

	return nil
}

// Ensure IdentityRepository implements repositories.IdentityRepository
var _ repositories.IdentityRepository = (*IdentityRepository)(nil)
