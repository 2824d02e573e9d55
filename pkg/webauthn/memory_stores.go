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
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// MemoryUserStore is an in-memory implementation of UserStore.
// Suitable for testing and single-instance deployments.
type MemoryUserStore struct {
	mu         sync.RWMutex
	byID       map[string]User
	byUsername map[string]User
}

// NewMemoryUserStore creates a new in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:       make(map[string]User),
		byUsername: make(map[string]User),
	}
}

// GetByID retrieves a user by their WebAuthn ID.
func (s *MemoryUserStore) GetByID(ctx context.Context, userID []byte) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[hex.EncodeToString(userID)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetByUsername retrieves a user by their username.
func (s *MemoryUserStore) GetByUsername(ctx context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Create creates a new user.
func (s *MemoryUserStore) Create(ctx context.Context, username, displayName string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[username]; ok {
		return nil, ErrUserAlreadyExists
	}

	user := NewDefaultUser(username, displayName)
	s.byID[hex.EncodeToString(user.WebAuthnID())] = user
	s.byUsername[username] = user
	return user, nil
}

// Save persists changes to an existing user.
func (s *MemoryUserStore) Save(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(user.WebAuthnID())
	if _, ok := s.byID[key]; !ok {
		return ErrUserNotFound
	}
	s.byID[key] = user
	s.byUsername[user.Username()] = user
	return nil
}

// Delete removes a user.
func (s *MemoryUserStore) Delete(ctx context.Context, userID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(userID)
	user, ok := s.byID[key]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.byID, key)
	delete(s.byUsername, user.Username())
	return nil
}

// Count returns the number of users in the store.
func (s *MemoryUserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Clear removes all users from the store.
func (s *MemoryUserStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]User)
	s.byUsername = make(map[string]User)
}

type challengeEntry struct {
	data      *webauthn.SessionData
	expiresAt time.Time
}

// MemoryChallengeStore is an in-memory implementation of ChallengeStore
// with per-entry expiry. Expired challenges are treated as absent.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	entries map[string]challengeEntry
	ttl     time.Duration
}

// NewMemoryChallengeStore creates a new in-memory challenge store. Entries
// expire after ttl; a zero ttl defaults to five minutes.
func NewMemoryChallengeStore(ttl time.Duration) *MemoryChallengeStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryChallengeStore{
		entries: make(map[string]challengeEntry),
		ttl:     ttl,
	}
}

func challengeKey(username string, kind CeremonyKind) string {
	return fmt.Sprintf("%s/%s", kind, username)
}

// Save stores the session data for a pending ceremony, replacing any
// previous challenge for the same (username, kind) pair.
func (s *MemoryChallengeStore) Save(ctx context.Context, username string, kind CeremonyKind, data *webauthn.SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[challengeKey(username, kind)] = challengeEntry{
		data:      data,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// Consume atomically retrieves and deletes the pending challenge.
func (s *MemoryChallengeStore) Consume(ctx context.Context, username string, kind CeremonyKind) (*webauthn.SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey(username, kind)
	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	delete(s.entries, key)

	if time.Now().After(entry.expiresAt) {
		return nil, ErrChallengeNotFound
	}
	return entry.data, nil
}

// Cleanup removes expired challenges and returns how many were removed.
// Consume already treats expired entries as absent; Cleanup only reclaims
// memory for ceremonies that were never finished.
func (s *MemoryChallengeStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Count returns the number of pending challenges, including expired ones
// not yet cleaned up.
func (s *MemoryChallengeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MemoryCredentialStore is an in-memory implementation of CredentialStore.
type MemoryCredentialStore struct {
	mu     sync.RWMutex
	byID   map[string]*Credential
	byUser map[string][]string
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:   make(map[string]*Credential),
		byUser: make(map[string][]string),
	}
}

// Save stores a new credential.
func (s *MemoryCredentialStore) Save(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(cred.ID)
	if _, ok := s.byID[credKey]; ok {
		return ErrCredentialAlreadyExists
	}

	userKey := hex.EncodeToString(cred.UserID)
	s.byID[credKey] = cred
	s.byUser[userKey] = append(s.byUser[userKey], credKey)
	return nil
}

// GetByUserID retrieves all credentials for a user.
func (s *MemoryCredentialStore) GetByUserID(ctx context.Context, userID []byte) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byUser[hex.EncodeToString(userID)]
	creds := make([]*Credential, 0, len(keys))
	for _, key := range keys {
		if cred, ok := s.byID[key]; ok {
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

// GetByCredentialID retrieves a credential by its ID.
func (s *MemoryCredentialStore) GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[hex.EncodeToString(credID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

// Update updates an existing credential.
func (s *MemoryCredentialStore) Update(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(cred.ID)
	if _, ok := s.byID[credKey]; !ok {
		return ErrCredentialNotFound
	}
	s.byID[credKey] = cred
	return nil
}

// Delete removes a credential by its ID.
func (s *MemoryCredentialStore) Delete(ctx context.Context, credID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credKey := hex.EncodeToString(credID)
	cred, ok := s.byID[credKey]
	if !ok {
		return ErrCredentialNotFound
	}
	delete(s.byID, credKey)

	userKey := hex.EncodeToString(cred.UserID)
	keys := s.byUser[userKey]
	for i, key := range keys {
		if key == credKey {
			s.byUser[userKey] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	return nil
}

// Count returns the number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
