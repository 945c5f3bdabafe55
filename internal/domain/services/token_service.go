package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
)

// Session is one issued application session: a short-lived Hasura-claims
// JWT plus the rotated refresh token that can mint the next one.
type Session struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
	RefreshToken         string    `json:"refreshToken"`
}

// TokenService mints refresh tokens and exchanges them for sessions.
type TokenService struct {
	refreshTokens repositories.RefreshTokenRepository
	users         repositories.UserRepository
	jwt           *auth.JWTManager
	refreshTTL    time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(refreshTokens repositories.RefreshTokenRepository, users repositories.UserRepository, jwt *auth.JWTManager, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		refreshTokens: refreshTokens,
		users:         users,
		jwt:           jwt,
		refreshTTL:    refreshTTL,
	}
}

// IssueRefreshToken mints and persists a new refresh token for the user
func (s *TokenService) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	token := &entities.RefreshToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.refreshTTL),
	}

	if err := s.refreshTokens.Create(ctx, token); err != nil {
		return "", fmt.Errorf("failed to issue refresh token: %w", err)
	}

	return token.Token, nil
}

// Exchange consumes a refresh token and returns a fresh session: a signed
// access token and a rotated refresh token. The presented token is destroyed
// whether or not the exchange succeeds, so a value is usable at most once.
func (s *TokenService) Exchange(ctx context.Context, refreshToken string) (*Session, error) {
	if uuid.Validate(refreshToken) != nil {
		return nil, auth.NewError(auth.ErrCodeInvalidRefreshToken, "malformed refresh token")
	}

	consumed, err := s.refreshTokens.Consume(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repositories.ErrTokenNotFound) {
			return nil, auth.NewError(auth.ErrCodeInvalidRefreshToken, "refresh token not found or already used")
		}
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if consumed.Expired() {
		// Consume already removed it; expired tokens are deleted on sight.
		return nil, auth.NewError(auth.ErrCodeInvalidRefreshToken, "refresh token expired")
	}

	user, err := s.users.GetByID(ctx, consumed.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, auth.NewError(auth.ErrCodeUserNotFound, "user no longer exists")
		}
		return nil, fmt.Errorf("failed to load token user: %w", err)
	}

	return s.NewSession(ctx, user)
}

// NewSession mints an access token and a refresh token for the user
func (s *TokenService) NewSession(ctx context.Context, user *entities.User) (*Session, error) {
	accessToken, expiresAt, err := s.jwt.GenerateToken(user.ID, user.DefaultRole, user.Roles)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := s.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastSeen(ctx, user.ID); err != nil {
		// Best effort; the session is already minted.
	}

	return &Session{
		AccessToken:          accessToken,
		AccessTokenExpiresAt: expiresAt,
		RefreshToken:         refreshToken,
	}, nil
}

// Revoke deletes a refresh token. Revoking an unknown token is not an error.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	if uuid.Validate(refreshToken) != nil {
		return auth.NewError(auth.ErrCodeInvalidRefreshToken, "malformed refresh token")
	}
	if err := s.refreshTokens.Delete(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// CleanupExpired removes refresh tokens that expired before now
func (s *TokenService) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := s.refreshTokens.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}
	return deleted, nil
}
