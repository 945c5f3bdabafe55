package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
// Uses Go's built-in os.ExpandEnv which is the idiomatic way to handle this
func expandEnvVars(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// DefaultConfigPaths defines the default locations to search for configuration files
var DefaultConfigPaths = []string{
	"./hasura-auth.yaml",
	"./hasura-auth.yml",
	"./config.yaml",
	"./config.yml",
	"/etc/hasura-auth/config.yaml",
	"/etc/hasura-auth/config.yml",
}

// Load loads the configuration from the specified file or default locations
func Load(configPath string) (*Config, error) {
	// Set default values
	config := &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      4000,
			PublicURL: "http://localhost:4000",
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:         "localhost",
				Port:         5432,
				Database:     "hasura_auth",
				User:         "postgres",
				SSLMode:      "disable",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				ExpiresIn: 900, // 15 minutes
				Issuer:    "hasura-auth",
			},
			RefreshTokenExpiresIn: 2592000, // 30 days
			FlowExpiresIn:         600,     // 10 minutes
			ClientURL:             "http://localhost:3000",
			DefaultLocale:         "en",
			AllowedLocales:        []string{"en"},
			DefaultRole:           "user",
			AllowedRoles:          []string{"user", "me"},
			Gravatar: GravatarConfig{
				Default: "blank",
				Rating:  "g",
			},
		},
	}

	// If no config path is provided, search in default locations
	if configPath == "" {
		configPath = findConfigFile()
	}

	// Load configuration from file if it exists
	if configPath != "" && fileExists(configPath) {
		fmt.Printf("[CONFIG] Loading config from: %s\n", configPath)
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the config
		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		fmt.Printf("[CONFIG] No config file found, using defaults\n")
	}

	// Validate configuration
	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(filepath string) (*Config, error) {
	return Load(filepath)
}

// LoadFromDefaults loads configuration using only defaults and environment variables
func LoadFromDefaults() (*Config, error) {
	return Load("")
}

// findConfigFile searches for a configuration file in default locations
func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}

// validate performs basic validation on the configuration
func validate(config *Config) error {
	// Validate PostgreSQL configuration
	if config.Database.Postgres.Host == "" {
		return fmt.Errorf("postgres host is required")
	}
	if config.Database.Postgres.Database == "" {
		return fmt.Errorf("postgres database name is required")
	}
	if config.Database.Postgres.User == "" {
		return fmt.Errorf("postgres user is required")
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if config.Session.Secret == "" {
		return fmt.Errorf("session.secret is required")
	}
	if config.Auth.JWT.SigningKey == "" {
		return fmt.Errorf("auth.jwt.signing_key is required")
	}
	if config.Auth.JWT.ExpiresIn <= 0 {
		return fmt.Errorf("auth.jwt.expires_in must be positive")
	}
	if config.Auth.RefreshTokenExpiresIn <= 0 {
		return fmt.Errorf("auth.refresh_token_expires_in must be positive")
	}
	if config.Auth.FlowExpiresIn <= 0 {
		return fmt.Errorf("auth.flow_expires_in must be positive")
	}
	if config.Auth.ClientURL == "" {
		return fmt.Errorf("auth.client_url is required")
	}

	if config.WebAuthn.Enabled {
		if config.WebAuthn.RPID == "" {
			return fmt.Errorf("webauthn.rp_id is required when webauthn is enabled")
		}
		if len(config.WebAuthn.RPOrigins) == 0 {
			return fmt.Errorf("webauthn.rp_origins is required when webauthn is enabled")
		}
	}

	if config.Native.Enabled && config.Native.Provider == "" {
		return fmt.Errorf("native.provider is required when the native flow is enabled")
	}

	// Provider credentials are deliberately not checked here: a provider with
	// missing credentials stays routable and fails per request instead of
	// taking the process down.

	return nil
}
