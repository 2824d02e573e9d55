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
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUserStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	_, err := store.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	user, err := store.Create(ctx, "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username())

	_, err = store.Create(ctx, "alice", "Alice Again")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	byID, err := store.GetByID(ctx, user.WebAuthnID())
	require.NoError(t, err)
	assert.Equal(t, user.Username(), byID.Username())

	user.SetPRFSalt([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, store.Save(ctx, user))

	reloaded, err := store.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, reloaded.PRFSalt())

	assert.Equal(t, 1, store.Count())
	require.NoError(t, store.Delete(ctx, user.WebAuthnID()))
	assert.Equal(t, 0, store.Count())
	assert.ErrorIs(t, store.Delete(ctx, user.WebAuthnID()), ErrUserNotFound)
}

func TestMemoryChallengeStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore(time.Minute)

	session := &webauthn.SessionData{Challenge: "abc"}
	require.NoError(t, store.Save(ctx, "alice", CeremonyRegistration, session))

	got, err := store.Consume(ctx, "alice", CeremonyRegistration)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Challenge)

	_, err = store.Consume(ctx, "alice", CeremonyRegistration)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestMemoryChallengeStore_KindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore(time.Minute)

	require.NoError(t, store.Save(ctx, "alice", CeremonyRegistration, &webauthn.SessionData{Challenge: "reg"}))
	require.NoError(t, store.Save(ctx, "alice", CeremonyAuthentication, &webauthn.SessionData{Challenge: "auth"}))

	// A registration challenge can never complete an authentication.
	got, err := store.Consume(ctx, "alice", CeremonyAuthentication)
	require.NoError(t, err)
	assert.Equal(t, "auth", got.Challenge)

	got, err = store.Consume(ctx, "alice", CeremonyRegistration)
	require.NoError(t, err)
	assert.Equal(t, "reg", got.Challenge)
}

func TestMemoryChallengeStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore(time.Minute)

	require.NoError(t, store.Save(ctx, "alice", CeremonyRegistration, &webauthn.SessionData{Challenge: "first"}))
	require.NoError(t, store.Save(ctx, "alice", CeremonyRegistration, &webauthn.SessionData{Challenge: "second"}))

	got, err := store.Consume(ctx, "alice", CeremonyRegistration)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Challenge)
}

func TestMemoryChallengeStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore(time.Millisecond)

	require.NoError(t, store.Save(ctx, "alice", CeremonyRegistration, &webauthn.SessionData{Challenge: "abc"}))
	time.Sleep(5 * time.Millisecond)

	_, err := store.Consume(ctx, "alice", CeremonyRegistration)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestMemoryChallengeStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore(time.Millisecond)

	require.NoError(t, store.Save(ctx, "alice", CeremonyRegistration, &webauthn.SessionData{Challenge: "a"}))
	require.NoError(t, store.Save(ctx, "bob", CeremonyRegistration, &webauthn.SessionData{Challenge: "b"}))
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 2, store.Count())
	assert.Equal(t, 2, store.Cleanup())
	assert.Equal(t, 0, store.Count())
}

func TestMemoryCredentialStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCredentialStore()

	userID := []byte("user-1")
	cred := &Credential{
		ID:     []byte("cred-1"),
		UserID: userID,
	}

	require.NoError(t, store.Save(ctx, cred))
	assert.ErrorIs(t, store.Save(ctx, cred), ErrCredentialAlreadyExists)

	got, err := store.GetByCredentialID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, got.ID)

	byUser, err := store.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.Len(t, byUser, 1)

	// Unknown user yields an empty slice, not an error
	byUser, err = store.GetByUserID(ctx, []byte("unknown"))
	require.NoError(t, err)
	assert.Empty(t, byUser)

	cred.Authenticator.SignCount = 42
	require.NoError(t, store.Update(ctx, cred))

	got, err = store.GetByCredentialID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), got.Authenticator.SignCount)

	require.NoError(t, store.Delete(ctx, cred.ID))
	_, err = store.GetByCredentialID(ctx, cred.ID)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.ErrorIs(t, store.Update(ctx, cred), ErrCredentialNotFound)
}

func TestDefaultUser_PRFSaltImmutable(t *testing.T) {
	user := NewDefaultUser("alice", "Alice")
	assert.Nil(t, user.PRFSalt())

	first := []byte("first-salt-first-salt-first-salt")
	user.SetPRFSalt(first)
	assert.Equal(t, first, user.PRFSalt())

	// A second set is ignored: the salt is fixed for the user's lifetime.
	user.SetPRFSalt([]byte("second-salt-second-salt-second!!"))
	assert.Equal(t, first, user.PRFSalt())
}
