package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

// RefreshTokenRepository implements the RefreshTokenRepository interface
// for PostgreSQL
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new PostgreSQL refresh token repository
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create persists a new refresh token
func (r *RefreshTokenRepository) Create(ctx context.Context, token *entities.RefreshToken) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("refresh_token", "create", time.Since(start), 1, err)
	}()

	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO refresh_tokens (token, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err = r.db.ExecContext(ctx, query,
		token.Token,
		token.UserID,
		token.ExpiresAt,
		token.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}

	return nil
}

// Consume atomically retrieves and destroys a refresh token. DELETE with
// RETURNING makes retrieval and destruction one statement, so concurrent
// exchanges of the same token produce exactly one winner.
func (r *RefreshTokenRepository) Consume(ctx context.Context, token string) (*entities.RefreshToken, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("refresh_token", "consume", time.Since(start), rowCount, err)
	}()

	var consumed entities.RefreshToken
	query := `
		DELETE FROM refresh_tokens
		WHERE token = $1
		RETURNING token, user_id, expires_at, created_at
	`

	err = r.db.GetContext(ctx, &consumed, query, token)
	if err != nil {
		if err == sql.ErrNoRows {
			err = repositories.ErrTokenNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	rowCount = 1
	return &consumed, nil
}

// Delete removes a refresh token without returning it.
// Idempotent: deleting an absent token is not an error.
func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("refresh_token", "delete", time.Since(start), rowsAffected, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	rowsAffected, _ = result.RowsAffected()
	return nil
}

// DeleteExpired removes tokens that expired before the given time
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("refresh_token", "delete_expired", time.Since(start), rowsAffected, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// Ensure RefreshTokenRepository implements repositories.RefreshTokenRepository
var _ repositories.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
