package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Morstis/hasura-auth/internal/auth"
	"github.com/Morstis/hasura-auth/internal/auth/flowstate"
	"github.com/Morstis/hasura-auth/internal/auth/providers"
	"github.com/Morstis/hasura-auth/internal/config"
	"github.com/Morstis/hasura-auth/internal/domain/services"
	"github.com/Morstis/hasura-auth/internal/infrastructure/database/postgres"
	"github.com/Morstis/hasura-auth/internal/pkg/idgen"
	"github.com/Morstis/hasura-auth/internal/pkg/logger"
	"github.com/Morstis/hasura-auth/migrations"
	"github.com/Morstis/hasura-auth/server/internal/handlers"
	"github.com/Morstis/hasura-auth/server/internal/middleware"
	"github.com/Morstis/hasura-auth/server/internal/session"
	"github.com/gorilla/mux"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		forceVersion  int
		configPath    string
		listenAddr    string
		logLevel      string
		logFile       string
		logToStderr   bool
		alsoLogStderr bool
		logFormat     string
	)

	cmd := &cobra.Command{
		Use:   "hasura-auth-server",
		Short: "Hasura auth server",
		Long:  "OAuth, native-token, and WebAuthn sign-in service issuing Hasura-compatible JWTs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupServerLogging(logLevel, logFile, logToStderr, alsoLogStderr, logFormat)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, listenAddr, forceVersion)
		},
	}

	cmd.Flags().IntVar(&forceVersion, "force-migration", -1, "Force migration version (use to fix dirty migration state)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (optional)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")

	// Add logging flags
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (if specified, logs to file instead of stderr)")
	cmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false, "Log to stderr (default behavior unless --log-file specified)")
	cmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false, "Log to both file and stderr")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (text, json)")

	// Add subcommands
	cmd.AddCommand(newUserCommand())
	cmd.AddCommand(newTokenCommand())

	return cmd
}

// setupServerLogging configures the global logger for the server
func setupServerLogging(logLevel, logFile string, logToStderr, alsoLogStderr bool, logFormat string) error {
	// Default to stderr logging unless file is specified
	if logFile == "" {
		logToStderr = true
	}

	cfg := logger.Config{
		Level:         logger.ParseLevel(logLevel),
		LogFile:       logFile,
		LogToStderr:   logToStderr,
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	// Set as default logger
	slog.SetDefault(globalLogger)

	return nil
}

func runServer(configPath, listenAddr string, forceVersion int) error {
	log := slog.Default().With("component", "server")
	log.Info("Starting server initialization")

	// Initialize Snowflake ID generator
	if err := idgen.Initialize(idgen.NodeFromEnv()); err != nil {
		return fmt.Errorf("failed to initialize ID generator: %w", err)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Info("Loaded OAuth providers", "count", len(cfg.Providers))
	for _, p := range cfg.Providers {
		log.Info("OAuth provider configured",
			"name", p.Name,
			"enabled", p.Enabled,
			"has_credentials", p.ClientID != "" && p.ClientSecret != "")
	}

	pgConn, err := connectPostgres(cfg, log)
	if err != nil {
		return err
	}
	defer pgConn.Close()

	// Handle force migration if requested
	if forceVersion >= 0 {
		log.Info("Force setting migration version", "version", forceVersion)
		if err := pgConn.ForceMigrationVersion(migrations.FS, forceVersion); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
		log.Info("Migration version forced, exiting", "version", forceVersion)
		return nil
	}

	// Run migrations
	if err := pgConn.RunMigrations(migrations.FS); err != nil {
		return fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	// Flow store: Redis when configured, otherwise in-process memory.
	// Multi-instance deployments need Redis so a callback can land on a
	// different instance than the one that started the flow.
	var flows flowstate.Store
	var memoryFlows *flowstate.MemoryStore
	if cfg.Redis.Addr != "" {
		log.Info("Using Redis flow store", "addr", cfg.Redis.Addr)
		flows = flowstate.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	} else {
		log.Info("Using in-memory flow store")
		memoryFlows = flowstate.NewMemoryStore()
		flows = memoryFlows
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(pgConn.DB)
	identityRepo := postgres.NewIdentityRepository(pgConn.DB)
	authenticatorRepo := postgres.NewAuthenticatorRepository(pgConn.DB)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(pgConn.DB)

	// Initialize provider registry
	registry := providers.NewRegistryFromConfig(cfg.Providers, slog.Default())
	log.Info("Providers registered", "enabled", registry.Enabled())

	// Initialize services
	jwtManager := auth.NewJWTManager(cfg.Auth.JWT.SigningKey, cfg.Auth.AccessTokenLifetime(), cfg.Auth.JWT.Issuer)
	accountService := services.NewAccountService(userRepo, identityRepo, services.AccountConfig{
		DefaultLocale:                  cfg.Auth.DefaultLocale,
		AllowedLocales:                 cfg.Auth.AllowedLocales,
		DefaultRole:                    cfg.Auth.DefaultRole,
		AllowedRoles:                   cfg.Auth.AllowedRoles,
		GravatarEnabled:                cfg.Auth.Gravatar.GravatarEnabled(),
		GravatarDefault:                cfg.Auth.Gravatar.Default,
		GravatarRating:                 cfg.Auth.Gravatar.Rating,
		RequireVerifiedEmailForLinking: cfg.Auth.RequireVerifiedEmailForLinking,
	})
	tokenService := services.NewTokenService(refreshTokenRepo, userRepo, jwtManager, cfg.Auth.RefreshTokenLifetime())

	var webauthnService *services.WebAuthnService
	if cfg.WebAuthn.Enabled {
		webauthnService, err = services.NewWebAuthnService(cfg.WebAuthn, userRepo, authenticatorRepo)
		if err != nil {
			return fmt.Errorf("failed to initialize webauthn: %w", err)
		}
		log.Info("WebAuthn enabled", "rp_id", cfg.WebAuthn.RPID)
	}

	// Flow cookie manager; the cookie lives exactly as long as a flow
	sessionManager, err := session.NewManager(cfg.Session.Secret, cfg.Auth.FlowExpiresIn, cfg.Session.Secure)
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}

	h := handlers.New(cfg, registry, flows, accountService, tokenService, webauthnService, sessionManager, pgConn)
	router := newRouter(h)

	addr := listenAddr
	if addr == "" {
		addr = cfg.Server.ListenAddr()
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", "address", addr, "public_url", cfg.Server.PublicURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-stop:
		log.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	if memoryFlows != nil {
		memoryFlows.Close()
	}

	log.Info("Server stopped")
	return nil
}

// connectPostgres dials the database with retries so the server survives
// starting before its database does
func connectPostgres(cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	log.Info("Initializing PostgreSQL database",
		"user", cfg.Database.Postgres.User,
		"host", cfg.Database.Postgres.Host,
		"database", cfg.Database.Postgres.Database)

	connString := cfg.Database.Postgres.ConnectionString()

	var pgConn *postgres.Connection
	maxRetries := 10
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		var err error
		pgConn, err = postgres.NewConnection(connString, cfg.Database.Postgres.MaxOpenConns, cfg.Database.Postgres.MaxIdleConns)
		if err == nil {
			log.Info("Successfully connected to PostgreSQL")
			return pgConn, nil
		}

		if i < maxRetries-1 {
			log.Warn("Failed to connect to PostgreSQL",
				"attempt", i+1,
				"max_retries", maxRetries,
				"error", err,
				"retry_delay", retryDelay)
			time.Sleep(retryDelay)
			retryDelay *= 2 // Exponential backoff
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}
		} else {
			return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxRetries, err)
		}
	}
	return pgConn, nil
}

// newRouter wires every route. The logging middleware is attached with
// router.Use so it sees the matched route template for metric labels.
func newRouter(h *handlers.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LogRequest)

	router.HandleFunc("/signin/provider/{provider}", h.SignIn).Methods("GET")
	router.HandleFunc("/signin/provider/{provider}/callback", h.Callback).Methods("GET", "POST")
	router.HandleFunc("/native/token", h.NativeToken).Methods("POST")
	router.HandleFunc("/webauthn/register/options", h.WebAuthnRegisterOptions).Methods("POST")
	router.HandleFunc("/webauthn/register/verify", h.WebAuthnRegisterVerify).Methods("POST")
	router.HandleFunc("/token", h.Token).Methods("POST")
	router.HandleFunc("/signout", h.SignOut).Methods("POST")

	router.HandleFunc("/healthz", h.Health).Methods("GET")
	router.HandleFunc("/version", h.VersionInfo).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
