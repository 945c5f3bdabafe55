package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
	"github.com/Morstis/hasura-auth/internal/pkg/idgen"
	"github.com/Morstis/hasura-auth/internal/pkg/metrics"
)

// UserRepository implements the UserRepository interface for PostgreSQL
type UserRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sqlx.DB) repositories.UserRepository {
	return &UserRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "user")),
	}
}

// userRow represents a user as stored in the database
type userRow struct {
	ID               string         `db:"id"`
	Email            sql.NullString `db:"email"`
	DisplayName      string         `db:"display_name"`
	AvatarURL        sql.NullString `db:"avatar_url"`
	Locale           string         `db:"locale"`
	DefaultRole      string         `db:"default_role"`
	Metadata         []byte         `db:"metadata"`
	CurrentChallenge sql.NullString `db:"current_challenge"`
	Disabled         bool           `db:"disabled"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	LastSeen         sql.NullTime   `db:"last_seen"`
}

const userColumns = `id, email, display_name, avatar_url, locale, default_role,
	       metadata, current_challenge, disabled, created_at, updated_at, last_seen`

// toEntity converts a userRow to a domain entity
func (r *userRow) toEntity() (*entities.User, error) {
	user := &entities.User{
		ID:               r.ID,
		Email:            r.Email.String, // Empty string if NULL
		DisplayName:      r.DisplayName,
		AvatarURL:        r.AvatarURL.String,
		Locale:           r.Locale,
		DefaultRole:      r.DefaultRole,
		CurrentChallenge: r.CurrentChallenge.String,
		Disabled:         r.Disabled,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}

	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &user.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode user metadata: %w", err)
		}
	}

	if r.LastSeen.Valid {
		user.LastSeen = &r.LastSeen.Time
	}

	return user, nil
}

// userRowFromEntity converts a domain entity to a userRow
func userRowFromEntity(user *entities.User) (*userRow, error) {
	metadata := []byte("{}")
	if len(user.Metadata) > 0 {
		encoded, err := json.Marshal(user.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode user metadata: %w", err)
		}
		metadata = encoded
	}

	row := &userRow{
		ID:               user.ID,
		Email:            sql.NullString{String: user.Email, Valid: user.Email != ""},
		DisplayName:      user.DisplayName,
		AvatarURL:        sql.NullString{String: user.AvatarURL, Valid: user.AvatarURL != ""},
		Locale:           user.Locale,
		DefaultRole:      user.DefaultRole,
		Metadata:         metadata,
		CurrentChallenge: sql.NullString{String: user.CurrentChallenge, Valid: user.CurrentChallenge != ""},
		Disabled:         user.Disabled,
		CreatedAt:        user.CreatedAt,
		UpdatedAt:        user.UpdatedAt,
	}

	if user.LastSeen != nil {
		row.LastSeen = sql.NullTime{Time: *user.LastSeen, Valid: true}
	}

	return row, nil
}

// Create creates a new user together with its allowed roles.
// Returns repositories.ErrAlreadyExists when the email is already taken.
func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("user", "create", time.Since(start), 1, err)
	}()

	if user.ID == "" {
		user.ID = idgen.GenerateID()
	}

	r.log.Debug("creating user",
		slog.String("id", user.ID),
		slog.String("email", user.Email),
		slog.String("default_role", user.DefaultRole))

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	row, err := userRowFromEntity(user)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO users (
			id, email, display_name, avatar_url, locale, default_role,
			metadata, current_challenge, disabled, created_at, updated_at, last_seen
		) VALUES (
			:id, :email, :display_name, :avatar_url, :locale, :default_role,
			:metadata, :current_challenge, :disabled, :created_at, :updated_at, :last_seen
		)`

	if _, err = tx.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			err = repositories.ErrAlreadyExists
			return err
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	for _, role := range user.Roles {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			user.ID, role); err != nil {
			return fmt.Errorf("failed to add user role: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("user", "get_by_id", time.Since(start), rowCount, err)
	}()

	var row userRow
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	err = r.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			err = repositories.ErrUserNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user, err := row.toEntity()
	if err != nil {
		return nil, err
	}
	if user.Roles, err = r.loadRoles(ctx, user.ID); err != nil {
		return nil, err
	}

	rowCount = 1
	return user, nil
}

// GetByEmail retrieves a user by their email address.
// Returns (nil, nil) when no user has that email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("user", "get_by_email", time.Since(start), rowCount, err)
	}()

	var row userRow
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	err = r.db.GetContext(ctx, &row, query, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	user, err := row.toEntity()
	if err != nil {
		return nil, err
	}
	if user.Roles, err = r.loadRoles(ctx, user.ID); err != nil {
		return nil, err
	}

	rowCount = 1
	return user, nil
}

// Update an existing user's profile fields. Roles are fixed at creation
// and not touched here.
func (r *UserRepository) Update(ctx context.Context, user *entities.User) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("user", "update", time.Since(start), rowsAffected, err)
	}()

	user.UpdatedAt = time.Now()

	row, err := userRowFromEntity(user)
	if err != nil {
		return err
	}

	query := `
		UPDATE users SET
			email = :email,
			display_name = :display_name,
			avatar_url = :avatar_url,
			locale = :locale,
			default_role = :default_role,
			metadata = :metadata,
			disabled = :disabled,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = repositories.ErrUserNotFound
		return err
	}

	return nil
}

// SetCurrentChallenge stores a pending WebAuthn challenge for the user.
// An empty challenge clears it.
func (r *UserRepository) SetCurrentChallenge(ctx context.Context, userID, challenge string) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("user", "set_current_challenge", time.Since(start), rowsAffected, err)
	}()

	query := `UPDATE users SET current_challenge = NULLIF($1, ''), updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, challenge, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to set current challenge: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = repositories.ErrUserNotFound
		return err
	}

	return nil
}

// UpdateLastSeen updates the user's last seen timestamp
func (r *UserRepository) UpdateLastSeen(ctx context.Context, userID string) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("user", "update_last_seen", time.Since(start), rowsAffected, err)
	}()

	now := time.Now()
	query := `UPDATE users SET last_seen = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, now, now, userID)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}

	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = repositories.ErrUserNotFound
		return err
	}

	return nil
}

// Delete removes a user. Role and identity rows go with it via ON DELETE
// CASCADE. Idempotent: deleting an absent user is not an error.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	var rowsAffected int64
	defer func() {
		metrics.RecordDBOperation("user", "delete", time.Since(start), rowsAffected, err)
	}()

	r.log.Debug("deleting user", slog.String("id", id))

	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, _ = result.RowsAffected()
	return nil
}

func (r *UserRepository) loadRoles(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	err := r.db.SelectContext(ctx, &roles,
		`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	return roles, nil
}
