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

// Package rest exposes the passkey vault over HTTP: the WebAuthn ceremony
// endpoints and the encrypted blob endpoints.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-passkey-vault/internal/config"
	"github.com/jeremyhahn/go-passkey-vault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-passkey-vault/pkg/metrics"
	"github.com/jeremyhahn/go-passkey-vault/pkg/vault"
	"github.com/jeremyhahn/go-passkey-vault/pkg/webauthn"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the REST API server.
type Server struct {
	server   *http.Server
	handlers *HandlerContext
	host     string
	port     int
	logger   logger.Logger
	cancel   context.CancelFunc
}

// Config holds the REST server configuration.
type Config struct {
	// Host is the listen address (default: all interfaces)
	Host string

	// Port is the HTTP port to listen on (default: 8080)
	Port int

	// CeremonyService drives the WebAuthn ceremonies (required)
	CeremonyService *webauthn.Service

	// VaultService manages encrypted blobs (required)
	VaultService *vault.Service

	// UserStore resolves usernames to user handles (required)
	UserStore webauthn.UserStore

	// TokenGenerator issues and verifies bearer tokens (required for
	// session key lifetime, optional otherwise)
	TokenGenerator *webauthn.DefaultJWTGenerator

	// KeyLifetime is "ephemeral" or "session" (default: ephemeral)
	KeyLifetime string

	// MetricsEnabled exposes Prometheus metrics on MetricsPath
	MetricsEnabled bool

	// MetricsPath is the metrics endpoint path (default: /metrics)
	MetricsPath string

	// Version is the API version string
	Version string

	// Logger is the logging adapter (optional)
	Logger logger.Logger

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.CeremonyService == nil {
		return nil, fmt.Errorf("ceremony service is required")
	}
	if cfg.VaultService == nil {
		return nil, fmt.Errorf("vault service is required")
	}
	if cfg.UserStore == nil {
		return nil, fmt.Errorf("user store is required")
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.KeyLifetime == "" {
		cfg.KeyLifetime = config.KeyLifetimeEphemeral
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	if cfg.KeyLifetime == config.KeyLifetimeSession && cfg.TokenGenerator == nil {
		return nil, fmt.Errorf("token generator is required for session key lifetime")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewSlogAdapter(&logger.SlogConfig{
			Level: logger.LevelInfo,
		})
	}

	handlers := NewHandlerContext(
		cfg.CeremonyService,
		cfg.VaultService,
		cfg.UserStore,
		cfg.TokenGenerator,
		cfg.KeyLifetime,
		cfg.Version,
		log,
	)

	server := &Server{
		handlers: handlers,
		host:     cfg.Host,
		port:     cfg.Port,
		logger:   log,
	}

	router := server.setupRouter(cfg)

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(cfg *Config) *chi.Mux {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(s.RecoveryMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(CORSMiddleware)

	r.Get("/health", s.handlers.HealthHandler)
	r.Head("/health", s.handlers.HealthHandler)

	if cfg.MetricsEnabled {
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Ceremony endpoints
		r.Post("/webauthn/register/begin", s.handlers.BeginRegistrationHandler)
		r.Post("/webauthn/register/finish", s.handlers.FinishRegistrationHandler)
		r.Post("/webauthn/authenticate/begin", s.handlers.BeginAuthenticationHandler)
		r.Post("/webauthn/authenticate/finish", s.handlers.FinishAuthenticationHandler)

		// Vault endpoints
		r.Put("/vault/blob", s.handlers.StoreBlobHandler)
		r.Post("/vault/blob/retrieve", s.handlers.RetrieveBlobHandler)
		r.Get("/vault/blob/exists", s.handlers.ExistsBlobHandler)
		r.Delete("/vault/blob", s.handlers.DeleteBlobHandler)
	})

	return r
}

// Start starts the REST API server and the session key janitor.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.handlers.sessionKeys.janitor(ctx, time.Minute)

	s.logger.Info("Starting HTTP server",
		logger.String("host", s.host),
		logger.Int("port", s.port))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the configured HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
