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

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-passkey-vault/internal/config"
	"github.com/jeremyhahn/go-passkey-vault/internal/rest"
	"github.com/jeremyhahn/go-passkey-vault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-passkey-vault/pkg/metrics"
	"github.com/jeremyhahn/go-passkey-vault/pkg/storage"
	"github.com/jeremyhahn/go-passkey-vault/pkg/storage/file"
	"github.com/jeremyhahn/go-passkey-vault/pkg/vault"
	"github.com/jeremyhahn/go-passkey-vault/pkg/webauthn"
)

// serveCmd runs the REST API server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the passkey vault server",
	Long: `Run the REST API server exposing the WebAuthn ceremony endpoints
and the encrypted blob endpoints. Configuration is read from the file
given with --config, falling back to development defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(configFile)
	},
}

func runServer(configPath string) error {
	var cfg *config.Config
	var err error

	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	log := logger.NewSlogAdapter(&logger.SlogConfig{
		Level: logger.ParseLevel(cfg.Logging.Level),
		JSON:  cfg.Logging.Format == "json",
	})

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	blobs, err := newBlobStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	defer func() {
		if err := blobs.Close(); err != nil {
			log.Error("Failed to close blob storage", logger.Error(err))
		}
	}()

	users := webauthn.NewMemoryUserStore()
	challenges := webauthn.NewMemoryChallengeStore(cfg.WebAuthn.ChallengeTTL.Std())
	creds := webauthn.NewMemoryCredentialStore()

	var tokens *webauthn.DefaultJWTGenerator
	if cfg.Auth.JWTSecret != "" {
		tokens, err = webauthn.NewDefaultJWTGenerator(&webauthn.JWTGeneratorConfig{
			Secret:    []byte(cfg.Auth.JWTSecret),
			Issuer:    cfg.Auth.Issuer,
			ExpiresIn: cfg.Auth.TokenTTL.Std(),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize token generator: %w", err)
		}
	}

	var tokenGenerator webauthn.TokenGenerator
	if tokens != nil {
		tokenGenerator = tokens
	}

	ceremonies, err := webauthn.NewService(webauthn.ServiceParams{
		Config: &webauthn.Config{
			RPID:             cfg.WebAuthn.RPID,
			RPDisplayName:    cfg.WebAuthn.RPDisplayName,
			RPOrigins:        cfg.WebAuthn.RPOrigins,
			Timeout:          cfg.WebAuthn.Timeout.Std(),
			ChallengeTTL:     cfg.WebAuthn.ChallengeTTL.Std(),
			UserVerification: cfg.WebAuthn.UserVerification,
		},
		UserStore:       users,
		ChallengeStore:  challenges,
		CredentialStore: creds,
		TokenGenerator:  tokenGenerator,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ceremony service: %w", err)
	}

	vaultService, err := vault.NewService(vault.ServiceParams{
		RecordStore: vault.NewMemoryRecordStore(),
		BlobStore:   blobs,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vault service: %w", err)
	}

	server, err := rest.NewServer(&rest.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		CeremonyService: ceremonies,
		VaultService:    vaultService,
		UserStore:       users,
		TokenGenerator:  tokens,
		KeyLifetime:     cfg.Vault.KeyLifetime,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsPath:     cfg.Metrics.Path,
		Version:         Version,
		Logger:          log,
		ReadTimeout:     cfg.Server.ReadTimeout.Std(),
		WriteTimeout:    cfg.Server.WriteTimeout.Std(),
		IdleTimeout:     cfg.Server.IdleTimeout.Std(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", logger.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return server.Stop(ctx)
}

// newBlobStore builds the blob storage backend selected by the config.
func newBlobStore(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.StorageFile:
		return file.New(cfg.Storage.Path)
	default:
		return storage.NewMemoryBackend()
	}
}
