package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
	"github.com/Morstis/hasura-auth/internal/pkg/idgen"
	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

// AuthenticatorRepository implements the AuthenticatorRepository interface
// for PostgreSQL
type AuthenticatorRepository struct {
	db *sqlx.DB
}

// NewAuthenticatorRepository creates a new PostgreSQL authenticator repository
func NewAuthenticatorRepository(db *sqlx.DB) *AuthenticatorRepository {
	return &AuthenticatorRepository{db: db}
}

// Create persists a new authenticator.
// Returns repositories.ErrAlreadyExists when the credential ID is already
// registered, for this user or any other.
func (r *AuthenticatorRepository) Create(ctx context.Context, authenticator *entities.Authenticator) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("authenticator", "create", time.Since(start), 1, err)
	}()

	if authenticator.ID == "" {
		authenticator.ID = idgen.GenerateID()
	}
	if authenticator.CreatedAt.IsZero() {
		authenticator.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO authenticators (
			id, user_id, credential_id, public_key, sign_count, nickname, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		authenticator.ID,
		authenticator.UserID,
		authenticator.CredentialID,
		authenticator.PublicKey,
		authenticator.SignCount,
		authenticator.Nickname,
		authenticator.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			err = repositories.ErrAlreadyExists
			return err
		}
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	return nil
}

// ListByUserID retrieves all authenticators registered by a user
func (r *AuthenticatorRepository) ListByUserID(ctx context.Context, userID string) ([]*entities.Authenticator, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("authenticator", "list_by_user", time.Since(start), rowCount, err)
	}()

	var authenticators []*entities.Authenticator
	query := `
		SELECT id, user_id, credential_id, public_key, sign_count, nickname, created_at
		FROM authenticators
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	err = r.db.SelectContext(ctx, &authenticators, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list authenticators by user ID: %w", err)
	}

	rowCount = int64(len(authenticators))
	return authenticators, nil
}

// Delete removes an authenticator
func (r *AuthenticatorRepository) Delete(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("authenticator", "delete", time.Since(start), rowsAffected, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM authenticators WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete authenticator: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = repositories.ErrAuthenticatorNotFound
		return err
	}

	return nil
}

// Ensure AuthenticatorRepository implements repositories.AuthenticatorRepository
var _ repositories.AuthenticatorRepository = (*AuthenticatorRepository)(nil)
