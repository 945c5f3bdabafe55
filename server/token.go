package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Morstis/hasura-auth/internal/infrastructure/database/postgres"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Refresh token management commands",
		Long:  "Commands for managing refresh tokens in the database",
	}

	cmd.AddCommand(newTokenCleanupCommand())
	cmd.AddCommand(newTokenRevokeCommand())

	return cmd
}

func newTokenCleanupCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired refresh tokens",
		Long: `Delete refresh tokens whose lifetime has passed.

Expired tokens are also rejected and removed when presented, so this is
housekeeping for tokens that were simply abandoned. Safe to run on a
schedule against a live database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cleanupTokens(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	return cmd
}

func newTokenRevokeCommand() *cobra.Command {
	var (
		token      string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a refresh token",
		Long:  "Delete a refresh token so it can no longer be exchanged",
		RunE: func(cmd *cobra.Command, args []string) error {
			return revokeToken(configPath, token)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Refresh token to revoke (required)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	cmd.MarkFlagRequired("token")

	return cmd
}

func cleanupTokens(configPath string) error {
	_, pgConn, err := openDatabase(configPath)
	if err != nil {
		return err
	}
	defer pgConn.Close()

	tokenRepo := postgres.NewRefreshTokenRepository(pgConn.DB)

	deleted, err := tokenRepo.DeleteExpired(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	slog.Info("Expired refresh tokens deleted", "count", deleted)
	fmt.Printf("Deleted %d expired refresh token(s)\n", deleted)

	return nil
}

func revokeToken(configPath, token string) error {
	if err := uuid.Validate(token); err != nil {
		return fmt.Errorf("not a valid refresh token: %w", err)
	}

	_, pgConn, err := openDatabase(configPath)
	if err != nil {
		return err
	}
	defer pgConn.Close()

	tokenRepo := postgres.NewRefreshTokenRepository(pgConn.DB)

	if err := tokenRepo.Delete(context.Background(), token); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	slog.Info("Refresh token revoked")
	fmt.Println("Refresh token revoked")

	return nil
}
