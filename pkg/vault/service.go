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

// Package vault implements the encrypted blob protocol: each user owns at
// most one AES-256-GCM encrypted blob, sealed under a key derived from
// their WebAuthn PRF output. The vault never sees plaintext keys at rest;
// the derived key arrives per call and is forgotten when the call returns.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-passkey-vault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-passkey-vault/pkg/kdf"
	"github.com/jeremyhahn/go-passkey-vault/pkg/storage"
)

// blobKeyPrefix namespaces vault ciphertexts within the storage backend.
const blobKeyPrefix = "vault/"

// Service implements the encrypted blob protocol over a record store and
// an opaque blob storage backend.
type Service struct {
	records RecordStore
	blobs   storage.Backend
	logger  logger.Logger
}

// ServiceParams contains dependencies for creating a vault service.
type ServiceParams struct {
	// RecordStore holds the per-user blob records (required).
	RecordStore RecordStore

	// BlobStore holds the opaque ciphertexts (required).
	BlobStore storage.Backend

	// Logger is an optional structured logger. Defaults to a slog adapter.
	Logger logger.Logger
}

// NewService creates a new vault service.
func NewService(params ServiceParams) (*Service, error) {
	if params.RecordStore == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if params.BlobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}

	log := params.Logger
	if log == nil {
		log = logger.NewSlogAdapter(nil)
	}

	return &Service{
		records: params.RecordStore,
		blobs:   params.BlobStore,
		logger:  log,
	}, nil
}

// Store encrypts the plaintext under the derived key and replaces the
// user's blob, returning the blob pointer. A fresh nonce is generated for
// every call; the same plaintext stored twice yields different ciphertexts.
//
// The ciphertext is written before the record. A crash between the two
// writes leaves an orphaned blob and an intact old record; the user's
// previous blob remains retrievable and the record never dangles.
func (s *Service) Store(ctx context.Context, userID []byte, key *kdf.Key, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", ErrEmptyPayload
	}

	aead, err := key.AEAD()
	if err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	blobKey := blobKeyFor(userID)
	if err := s.blobs.Put(blobKey, ciphertext, storage.DefaultOptions()); err != nil {
		return "", fmt.Errorf("vault: write blob: %w", err)
	}

	record := &Record{
		UserID:    userID,
		BlobKey:   blobKey,
		Nonce:     nonce,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.records.Put(ctx, record); err != nil {
		return "", fmt.Errorf("vault: write record: %w", err)
	}

	s.logger.Debug("blob stored",
		logger.String("user_id", hex.EncodeToString(userID)),
		logger.String("blob_key", blobKey),
		logger.Int("ciphertext_bytes", len(ciphertext)))
	return blobKey, nil
}

// Retrieve decrypts and returns the user's blob under the derived key.
// Returns ErrNoBlob when the user has never stored one, ErrBlobNotFound
// when the record points at missing ciphertext, and ErrDecryptionFailed
// when the ciphertext does not authenticate under the key.
func (s *Service) Retrieve(ctx context.Context, userID []byte, key *kdf.Key) ([]byte, error) {
	record, err := s.records.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNoBlob
		}
		return nil, fmt.Errorf("vault: read record: %w", err)
	}

	ciphertext, err := s.blobs.Get(record.BlobKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("record points at missing blob",
				logger.String("user_id", hex.EncodeToString(userID)),
				logger.String("blob_key", record.BlobKey))
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("vault: read blob: %w", err)
	}

	aead, err := key.AEAD()
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	plaintext, err := aead.Open(nil, record.Nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Exists reports whether the user has a stored blob. Only the record is
// consulted; the ciphertext itself is not touched and no key is needed.
func (s *Service) Exists(ctx context.Context, userID []byte) (bool, error) {
	_, err := s.records.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("vault: read record: %w", err)
	}
	return true, nil
}

// Delete removes the user's record and ciphertext. The record goes first
// so a crash mid-delete leaves an orphaned blob, never a dangling record.
// Returns ErrNoBlob when the user has nothing stored.
func (s *Service) Delete(ctx context.Context, userID []byte) error {
	record, err := s.records.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrNoBlob
		}
		return fmt.Errorf("vault: read record: %w", err)
	}

	if err := s.records.Delete(ctx, userID); err != nil {
		return fmt.Errorf("vault: delete record: %w", err)
	}

	if err := s.blobs.Delete(record.BlobKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("vault: delete blob: %w", err)
	}
	return nil
}

func blobKeyFor(userID []byte) string {
	return blobKeyPrefix + hex.EncodeToString(userID)
}
