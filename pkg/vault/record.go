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

package vault

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// Record is the per-user pointer to the encrypted blob. The nonce lives
// here rather than alongside the ciphertext so the blob itself stays an
// opaque byte string to the storage backend.
type Record struct {
	// UserID is the WebAuthn user handle that owns the blob.
	UserID []byte `json:"user_id"`

	// BlobKey is the storage backend key holding the ciphertext.
	BlobKey string `json:"blob_key"`

	// Nonce is the AES-GCM nonce used for this ciphertext. Regenerated on
	// every store; never reused across encryptions.
	Nonce []byte `json:"nonce"`

	// UpdatedAt is when the blob was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordStore manages per-user blob records. Each user has at most one
// record; Put replaces atomically.
type RecordStore interface {
	// Get retrieves the record for a user.
	// Returns ErrRecordNotFound if the user has no record.
	Get(ctx context.Context, userID []byte) (*Record, error)

	// Put stores or replaces the record for a user.
	Put(ctx context.Context, record *Record) error

	// Delete removes the record for a user.
	// Returns ErrRecordNotFound if the user has no record.
	Delete(ctx context.Context, userID []byte) error
}

// MemoryRecordStore is an in-memory implementation of RecordStore.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryRecordStore creates a new in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*Record),
	}
}

// Get retrieves the record for a user.
func (s *MemoryRecordStore) Get(ctx context.Context, userID []byte) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[hex.EncodeToString(userID)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return record, nil
}

// Put stores or replaces the record for a user.
func (s *MemoryRecordStore) Put(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[hex.EncodeToString(record.UserID)] = record
	return nil
}

// Delete removes the record for a user.
func (s *MemoryRecordStore) Delete(ctx context.Context, userID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(userID)
	if _, ok := s.records[key]; !ok {
		return ErrRecordNotFound
	}
	delete(s.records, key)
	return nil
}

// Count returns the number of records in the store.
func (s *MemoryRecordStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
