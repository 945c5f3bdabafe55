package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Morstis/hasura-auth/internal/config"
	"github.com/Morstis/hasura-auth/internal/domain/entities"
	"github.com/Morstis/hasura-auth/internal/domain/repositories"
	"github.com/Morstis/hasura-auth/internal/infrastructure/database/postgres"
)

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
		Long:  "Commands for inspecting and managing user accounts",
	}

	cmd.AddCommand(newUserShowCommand())
	cmd.AddCommand(newUserDisableCommand())
	cmd.AddCommand(newUserEnableCommand())

	return cmd
}

func newUserShowCommand() *cobra.Command {
	var (
		userID     string
		email      string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a user account",
		Long:  "Show a user's profile and linked provider identities",
		Example: `  # Look up by email
  hasura-auth-server user show --email ada@example.com

  # Look up by id
  hasura-auth-server user show --id 1234567890`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showUser(configPath, userID, email)
		},
	}

	cmd.Flags().StringVar(&userID, "id", "", "User ID")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	return cmd
}

func newUserDisableCommand() *cobra.Command {
	var (
		userID     string
		email      string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable a user account",
		Long:  "Disable a user account so it can no longer sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setUserDisabled(configPath, userID, email, true)
		},
	}

	cmd.Flags().StringVar(&userID, "id", "", "User ID")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	return cmd
}

func newUserEnableCommand() *cobra.Command {
	var (
		userID     string
		email      string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Re-enable a disabled user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setUserDisabled(configPath, userID, email, false)
		},
	}

	cmd.Flags().StringVar(&userID, "id", "", "User ID")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	return cmd
}

// openDatabase connects without retries; an admin command that cannot reach
// the database should fail immediately, not wait
func openDatabase(configPath string) (*config.Config, *postgres.Connection, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	pgConn, err := postgres.NewConnection(cfg.Database.Postgres.ConnectionString(),
		cfg.Database.Postgres.MaxOpenConns, cfg.Database.Postgres.MaxIdleConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	return cfg, pgConn, nil
}

// findUser resolves a user by id or email, exactly one of which must be set
func findUser(ctx context.Context, userRepo repositories.UserRepository, userID, email string) (*entities.User, error) {
	switch {
	case userID != "" && email != "":
		return nil, fmt.Errorf("specify either --id or --email, not both")
	case userID != "":
		return userRepo.GetByID(ctx, userID)
	case email != "":
		user, err := userRepo.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("no user with email %s", email)
		}
		return user, nil
	default:
		return nil, fmt.Errorf("either --id or --email is required")
	}
}

func showUser(configPath, userID, email string) error {
	_, pgConn, err := openDatabase(configPath)
	if err != nil {
		return err
	}
	defer pgConn.Close()

	userRepo := postgres.NewUserRepository(pgConn.DB)
	identityRepo := postgres.NewIdentityRepository(pgConn.DB)

	ctx := context.Background()
	user, err := findUser(ctx, userRepo, userID, email)
	if err != nil {
		return err
	}

	status := "Active"
	if user.Disabled {
		status = "Disabled"
	}
	lastSeen := "never"
	if user.LastSeen != nil {
		lastSeen = user.LastSeen.Format(time.RFC3339)
	}

	fmt.Printf("User ID:       %s\n", user.ID)
	fmt.Printf("Email:         %s\n", user.Email)
	fmt.Printf("Display Name:  %s\n", user.DisplayName)
	fmt.Printf("Default Role:  %s\n", user.DefaultRole)
	fmt.Printf("Roles:         %v\n", user.Roles)
	fmt.Printf("Locale:        %s\n", user.Locale)
	fmt.Printf("Status:        %s\n", status)
	fmt.Printf("Created At:    %s\n", user.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Last Seen:     %s\n", lastSeen)

	identities, err := identityRepo.ListByUserID(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	if len(identities) == 0 {
		fmt.Println("\nNo linked provider identities")
		return nil
	}

	fmt.Printf("\nLinked identities (%d):\n", len(identities))
	for _, identity := range identities {
		fmt.Printf("  %-10s %s (linked %s)\n",
			identity.Provider, identity.ExternalID, identity.CreatedAt.Format(time.RFC3339))
	}

	return nil
}

func setUserDisabled(configPath, userID, email string, disabled bool) error {
	_, pgConn, err := openDatabase(configPath)
	if err != nil {
		return err
	}
	defer pgConn.Close()

	userRepo := postgres.NewUserRepository(pgConn.DB)

	ctx := context.Background()
	user, err := findUser(ctx, userRepo, userID, email)
	if err != nil {
		return err
	}

	if user.Disabled == disabled {
		fmt.Printf("User %s is already %s\n", user.ID, statusWord(disabled))
		return nil
	}

	user.Disabled = disabled
	if err := userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	slog.Info("User account updated",
		"user_id", user.ID,
		"email", user.Email,
		"disabled", disabled,
	)
	fmt.Printf("User %s %s\n", user.ID, statusWord(disabled))

	return nil
}

func statusWord(disabled bool) string {
	if disabled {
		return "disabled"
	}
	return "enabled"
}
