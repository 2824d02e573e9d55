// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey-vault.
//
// go-passkey-vault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Key lifetime modes for derived vault keys.
const (
	// KeyLifetimeEphemeral derives the key per blob request from a
	// caller-supplied PRF output and discards it when the call returns.
	KeyLifetimeEphemeral = "ephemeral"

	// KeyLifetimeSession derives the key once after a verified
	// authentication and caches it in memory, keyed by the issued bearer
	// token, until the token expires.
	KeyLifetimeSession = "session"
)

// Storage backend names.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
)

// Config represents the complete server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	WebAuthn WebAuthnConfig `yaml:"webauthn"`
	Vault    VaultConfig    `yaml:"vault"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// WebAuthnConfig contains Relying Party settings
type WebAuthnConfig struct {
	RPID             string   `yaml:"rp_id"`
	RPDisplayName    string   `yaml:"rp_display_name"`
	RPOrigins        []string `yaml:"rp_origins"`
	Timeout          Duration `yaml:"timeout"`
	ChallengeTTL     Duration `yaml:"challenge_ttl"`
	UserVerification string   `yaml:"user_verification"`
}

// VaultConfig controls the encrypted blob vault
type VaultConfig struct {
	// KeyLifetime is "ephemeral" or "session"
	KeyLifetime string `yaml:"key_lifetime"`
}

// StorageConfig controls the blob storage backend
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, file
	Path    string `yaml:"path"`    // root directory for the file backend
}

// AuthConfig controls post-authentication bearer tokens
type AuthConfig struct {
	// JWTSecret signs session tokens (HS256). Required when the vault
	// key lifetime is "session".
	JWTSecret string   `yaml:"jwt_secret"`
	Issuer    string   `yaml:"issuer"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, suitable for
// development and tests.
func Default() *Config {
	cfg := &Config{
		WebAuthn: WebAuthnConfig{
			RPID:          "localhost",
			RPDisplayName: "Passkey Vault",
			RPOrigins:     []string{"http://localhost:8080"},
		},
	}
	cfg.SetDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("VAULT_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("VAULT_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Printf("Warning: invalid VAULT_PORT value %q, using default %d: %v",
				portStr, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid VAULT_PORT value %q (out of range 1-65535), using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}
	if level := os.Getenv("VAULT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("VAULT_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if dataDir := os.Getenv("VAULT_DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}
	if secret := os.Getenv("VAULT_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(15 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(15 * time.Second)
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = Duration(60 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.WebAuthn.Timeout == 0 {
		c.WebAuthn.Timeout = Duration(60 * time.Second)
	}
	if c.WebAuthn.ChallengeTTL == 0 {
		c.WebAuthn.ChallengeTTL = Duration(5 * time.Minute)
	}
	if c.WebAuthn.UserVerification == "" {
		c.WebAuthn.UserVerification = "preferred"
	}
	if c.Vault.KeyLifetime == "" {
		c.Vault.KeyLifetime = KeyLifetimeEphemeral
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "go-passkey-vault"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = Duration(time.Hour)
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.WebAuthn.RPID == "" {
		return fmt.Errorf("webauthn rp_id is required")
	}
	if c.WebAuthn.RPDisplayName == "" {
		return fmt.Errorf("webauthn rp_display_name is required")
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		return fmt.Errorf("at least one webauthn rp_origin is required")
	}

	switch c.Vault.KeyLifetime {
	case KeyLifetimeEphemeral, KeyLifetimeSession:
	default:
		return fmt.Errorf("vault key_lifetime must be %q or %q, got %q",
			KeyLifetimeEphemeral, KeyLifetimeSession, c.Vault.KeyLifetime)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the file backend")
		}
	default:
		return fmt.Errorf("storage backend must be %q or %q, got %q",
			StorageMemory, StorageFile, c.Storage.Backend)
	}

	// Session-lifetime keys are addressed by bearer token, so tokens must
	// be issued and verifiable.
	if c.Vault.KeyLifetime == KeyLifetimeSession && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth jwt_secret of at least 32 bytes is required for session key lifetime")
	}

	return nil
}
