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

	"github.com/go-webauthn/webauthn/webauthn"
)

// UserStore is the interface applications implement for user persistence.
// This interface is intentionally minimal - applications bring their own user model.
type UserStore interface {
	// GetByID retrieves a user by their WebAuthn ID (user handle).
	// Returns ErrUserNotFound if the user does not exist.
	GetByID(ctx context.Context, userID []byte) (User, error)

	// GetByUsername retrieves a user by their username.
	// Returns ErrUserNotFound if the user does not exist.
	GetByUsername(ctx context.Context, username string) (User, error)

	// Create creates a new user with the given username and display name.
	// Returns the created user with its assigned ID.
	Create(ctx context.Context, username, displayName string) (User, error)

	// Save persists changes to an existing user (PRF salt, credentials).
	Save(ctx context.Context, user User) error

	// Delete removes a user by their WebAuthn ID.
	// Returns ErrUserNotFound if the user does not exist.
	Delete(ctx context.Context, userID []byte) error
}

// ChallengeStore holds the single outstanding ceremony challenge per
// (username, ceremony kind) pair. Saving overwrites any pending challenge
// for the same pair, invalidating the earlier ceremony. Consume is an
// atomic check-and-delete so a challenge can never be used twice, which
// keeps the orchestrator free of mutable state of its own.
type ChallengeStore interface {
	// Save stores the session data for a pending ceremony, replacing any
	// previous challenge for the same (username, kind) pair.
	Save(ctx context.Context, username string, kind CeremonyKind, data *webauthn.SessionData) error

	// Consume atomically retrieves and deletes the pending challenge.
	// Returns ErrChallengeNotFound if none is pending or it has expired.
	Consume(ctx context.Context, username string, kind CeremonyKind) (*webauthn.SessionData, error)
}

// CredentialStore manages WebAuthn credential persistence.
// Credentials are the public key records stored by the Relying Party.
type CredentialStore interface {
	// Save stores a new credential.
	Save(ctx context.Context, cred *Credential) error

	// GetByUserID retrieves all credentials for a user.
	// Returns an empty slice if the user has no credentials.
	GetByUserID(ctx context.Context, userID []byte) ([]*Credential, error)

	// GetByCredentialID retrieves a credential by its ID.
	// Returns ErrCredentialNotFound if the credential does not exist.
	GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error)

	// Update updates an existing credential (e.g., sign counter, last used).
	// Returns ErrCredentialNotFound if the credential does not exist.
	Update(ctx context.Context, cred *Credential) error

	// Delete removes a credential by its ID.
	// Returns ErrCredentialNotFound if the credential does not exist.
	Delete(ctx context.Context, credID []byte) error
}

// TokenGenerator is an optional interface for generating tokens after a
// successful authentication. If not provided, the service returns no token.
type TokenGenerator interface {
	// GenerateToken creates a bearer token for the authenticated user.
	GenerateToken(ctx context.Context, user User) (string, error)
}
