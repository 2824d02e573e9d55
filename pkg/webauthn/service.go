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

package webauthn

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/jeremyhahn/go-passkey-vault/pkg/adapters/logger"
)

// Service drives the WebAuthn registration and authentication ceremonies
// and the PRF extension request/response. Cryptographic verification is
// delegated to the go-webauthn library; the service owns the challenge
// lifecycle, credential bookkeeping, and PRF salt management.
type Service struct {
	webauthn   *webauthn.WebAuthn
	config     *Config
	users      UserStore
	challenges ChallengeStore
	creds      CredentialStore
	tokens     TokenGenerator
	logger     logger.Logger
	configured bool
}

// ServiceParams contains dependencies for creating a WebAuthn service.
type ServiceParams struct {
	// Config is the WebAuthn configuration (required).
	Config *Config

	// UserStore is the user persistence layer (required).
	UserStore UserStore

	// ChallengeStore is the pending-challenge persistence layer (required).
	ChallengeStore ChallengeStore

	// CredentialStore is the credential persistence layer (required).
	CredentialStore CredentialStore

	// TokenGenerator is an optional token generator for post-auth tokens.
	TokenGenerator TokenGenerator

	// Logger is an optional structured logger. Defaults to a slog adapter.
	Logger logger.Logger
}

// RegistrationResult is the outcome of a registration ceremony.
type RegistrationResult struct {
	// Verified indicates whether the attestation response verified. A
	// false value is a normal, expected outcome, not an error.
	Verified bool

	// PRFEnabled indicates the new credential supports PRF evaluation.
	PRFEnabled bool
}

// AuthenticationResult is the outcome of an authentication ceremony.
type AuthenticationResult struct {
	// Verified indicates whether the assertion response verified. A
	// false value is a normal, expected outcome, not an error.
	Verified bool

	// PRFOutput is the PRF evaluation result, or nil when the
	// authenticator did not evaluate the PRF. Callers must treat a nil
	// output as a capability gap, not a failure.
	PRFOutput []byte

	// Token is a bearer token for the authenticated session, if a
	// TokenGenerator is configured.
	Token string
}

// NewService creates a new WebAuthn service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.UserStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if params.ChallengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if params.CredentialStore == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	log := params.Logger
	if log == nil {
		log = logger.NewSlogAdapter(nil)
	}

	return &Service{
		webauthn:   wa,
		config:     params.Config,
		users:      params.UserStore,
		challenges: params.ChallengeStore,
		creds:      params.CredentialStore,
		tokens:     params.TokenGenerator,
		logger:     log,
		configured: true,
	}, nil
}

// BeginRegistration starts the WebAuthn registration ceremony, requesting
// that PRF be enabled for the new credential. The user is created on first
// contact. Any pending registration challenge for the user is replaced.
func (s *Service) BeginRegistration(ctx context.Context, username, displayName string) (*protocol.CredentialCreation, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if !IsUserNotFound(err) {
			return nil, WrapError("get user", err)
		}
		user, err = s.users.Create(ctx, username, displayName)
		if err != nil {
			return nil, WrapError("create user", err)
		}
	}

	// Exclude already-registered authenticators so the same device cannot
	// be bound to this user twice.
	existingCreds, err := s.creds.GetByUserID(ctx, user.WebAuthnID())
	if err != nil {
		return nil, WrapError("get credentials", err)
	}

	excludeList := make([]protocol.CredentialDescriptor, len(existingCreds))
	for i, cred := range existingCreds {
		excludeList[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
			Transport:    cred.Transport,
		}
	}

	options, session, err := s.webauthn.BeginRegistration(user,
		webauthn.WithExclusions(excludeList),
		webauthn.WithExtensions(registrationExtensions()),
	)
	if err != nil {
		return nil, WrapError("begin registration", err)
	}

	if err := s.challenges.Save(ctx, username, CeremonyRegistration, session); err != nil {
		return nil, WrapError("save challenge", err)
	}

	return options, nil
}

// FinishRegistration completes the WebAuthn registration ceremony. The
// pending challenge is consumed whether or not verification succeeds; a
// failed verification yields Verified=false, not an error.
func (s *Service) FinishRegistration(ctx context.Context, username string, response *protocol.ParsedCredentialCreationData) (*RegistrationResult, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	session, err := s.challenges.Consume(ctx, username, CeremonyRegistration)
	if err != nil {
		return nil, WrapError("consume challenge", err)
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, WrapError("get user", err)
	}

	credential, err := s.webauthn.CreateCredential(user, *session, response)
	if err != nil {
		s.logger.Debug("registration verification failed",
			logger.String("username", username),
			logger.Error(err))
		return &RegistrationResult{Verified: false}, nil
	}

	cred := FromWebAuthnCredential(user.WebAuthnID(), credential)
	if err := s.creds.Save(ctx, cred); err != nil {
		return nil, WrapError("save credential", err)
	}

	user.AddCredential(cred)
	if err := s.users.Save(ctx, user); err != nil {
		return nil, WrapError("save user", err)
	}

	return &RegistrationResult{
		Verified:   true,
		PRFEnabled: PRFEnabled(response.ClientExtensionResults),
	}, nil
}

// BeginAuthentication starts the WebAuthn authentication ceremony,
// requesting PRF evaluation over the user's fixed salt. If the user has no
// salt yet (registered before any authentication), one is generated and
// persisted first. Any pending authentication challenge is replaced.
func (s *Service) BeginAuthentication(ctx context.Context, username string) (*protocol.CredentialAssertion, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, WrapError("get user", err)
	}

	creds, err := s.creds.GetByUserID(ctx, user.WebAuthnID())
	if err != nil {
		return nil, WrapError("get credentials", err)
	}
	if len(creds) == 0 {
		return nil, WrapError("begin authentication", ErrNoCredentials)
	}

	salt, err := s.ensurePRFSalt(ctx, user)
	if err != nil {
		return nil, err
	}

	allowList := make([]protocol.CredentialDescriptor, len(creds))
	for i, cred := range creds {
		allowList[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
			Transport:    cred.Transport,
		}
	}

	options, session, err := s.webauthn.BeginLogin(user,
		webauthn.WithAllowedCredentials(allowList),
		webauthn.WithAssertionExtensions(assertionExtensions(salt)),
	)
	if err != nil {
		return nil, WrapError("begin authentication", err)
	}

	if err := s.challenges.Save(ctx, username, CeremonyAuthentication, session); err != nil {
		return nil, WrapError("save challenge", err)
	}

	return options, nil
}

// FinishAuthentication completes the WebAuthn authentication ceremony and
// extracts the PRF output. The pending challenge is consumed whether or
// not verification succeeds. A signature counter that fails to strictly
// advance is surfaced as ErrCounterRegression and leaves stored state
// untouched; the condition is terminal for that ceremony and retrying
// cannot change the outcome.
func (s *Service) FinishAuthentication(ctx context.Context, username string, response *protocol.ParsedCredentialAssertionData) (*AuthenticationResult, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	session, err := s.challenges.Consume(ctx, username, CeremonyAuthentication)
	if err != nil {
		return nil, WrapError("consume challenge", err)
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, WrapError("get user", err)
	}

	stored, err := s.creds.GetByCredentialID(ctx, response.RawID)
	if err != nil {
		return nil, WrapError("get credential", err)
	}

	credential, err := s.webauthn.ValidateLogin(user, *session, response)
	if err != nil {
		s.logger.Debug("authentication verification failed",
			logger.String("username", username),
			logger.Error(err))
		return &AuthenticationResult{Verified: false}, nil
	}

	// The counter must strictly advance unless the authenticator does not
	// implement one (both values zero).
	oldCount := stored.Authenticator.SignCount
	newCount := credential.Authenticator.SignCount
	if credential.Authenticator.CloneWarning || (newCount <= oldCount && (newCount != 0 || oldCount != 0)) {
		s.logger.Warn("signature counter regression, possible cloned authenticator",
			logger.String("username", username),
			logger.Int64("stored_count", int64(oldCount)),
			logger.Int64("reported_count", int64(newCount)))
		return nil, WrapError("finish authentication", ErrCounterRegression)
	}

	// Mutate a copy so a failed Update (or a concurrent ceremony holding
	// the same pointer) never observes half-applied state.
	updated := *stored
	updated.Authenticator.SignCount = newCount
	updated.Authenticator.CloneWarning = credential.Authenticator.CloneWarning
	updated.LastUsedAt = time.Now().UTC()

	if err := s.creds.Update(ctx, &updated); err != nil {
		return nil, WrapError("update credential", err)
	}

	user.UpdateCredential(&updated)
	if err := s.users.Save(ctx, user); err != nil {
		return nil, WrapError("save user", err)
	}

	result := &AuthenticationResult{Verified: true}
	if output, ok := PRFOutputFromResults(response.ClientExtensionResults); ok {
		result.PRFOutput = output
	}

	if s.tokens != nil {
		token, err := s.tokens.GenerateToken(ctx, user)
		if err != nil {
			return nil, WrapError("generate token", err)
		}
		result.Token = token
	}

	return result, nil
}

// GetUser retrieves a user by username.
func (s *Service) GetUser(ctx context.Context, username string) (User, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.users.GetByUsername(ctx, username)
}

// IsRegistered checks whether a user exists and has at least one credential.
func (s *Service) IsRegistered(ctx context.Context, username string) (bool, error) {
	if !s.configured {
		return false, ErrNotConfigured
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if IsUserNotFound(err) {
			return false, nil
		}
		return false, WrapError("get user", err)
	}

	creds, err := s.creds.GetByUserID(ctx, user.WebAuthnID())
	if err != nil {
		return false, WrapError("get credentials", err)
	}
	return len(creds) > 0, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// ensurePRFSalt returns the user's PRF salt, generating and persisting one
// on first use. The salt is fixed for the lifetime of the user; a changed
// salt would derive a different key and orphan any stored blob.
func (s *Service) ensurePRFSalt(ctx context.Context, user User) ([]byte, error) {
	if salt := user.PRFSalt(); len(salt) == PRFSaltSize {
		return salt, nil
	}

	salt := make([]byte, PRFSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, WrapError("generate prf salt", err)
	}

	user.SetPRFSalt(salt)
	if err := s.users.Save(ctx, user); err != nil {
		return nil, WrapError("save user", err)
	}

	// Re-read in case the store raced another request; the persisted salt
	// wins so every ceremony evaluates the PRF over the same value.
	return user.PRFSalt(), nil
}
