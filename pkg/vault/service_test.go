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
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey-vault/pkg/kdf"
	"github.com/jeremyhahn/go-passkey-vault/pkg/storage"
)

func testKey(t *testing.T) *kdf.Key {
	t.Helper()

	prfOutput := make([]byte, kdf.PRFOutputSize)
	_, err := rand.Read(prfOutput)
	require.NoError(t, err)

	salt := make([]byte, kdf.SaltSize)
	_, err = rand.Read(salt)
	require.NoError(t, err)

	key, err := kdf.DeriveKey(prfOutput, salt)
	require.NoError(t, err)
	return key
}

func newTestVault(t *testing.T) (*Service, *MemoryRecordStore, storage.Backend) {
	t.Helper()

	records := NewMemoryRecordStore()
	blobs := storage.NewMemory()

	service, err := NewService(ServiceParams{
		RecordStore: records,
		BlobStore:   blobs,
	})
	require.NoError(t, err)
	return service, records, blobs
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(ServiceParams{BlobStore: storage.NewMemory()})
	assert.Error(t, err)

	_, err = NewService(ServiceParams{RecordStore: NewMemoryRecordStore()})
	assert.Error(t, err)
}

func TestStoreAndRetrieve(t *testing.T) {
	service, _, _ := newTestVault(t)
	ctx := context.Background()
	userID := []byte("user-1")
	key := testKey(t)
	plaintext := []byte(`{"passwords": ["hunter2"]}`)

	pointer, err := service.Store(ctx, userID, key, plaintext)
	require.NoError(t, err)
	assert.NotEmpty(t, pointer)

	got, err := service.Retrieve(ctx, userID, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestStore_ReturnsPointer(t *testing.T) {
	service, records, blobs := newTestVault(t)
	ctx := context.Background()
	userID := []byte("user-1")
	key := testKey(t)

	pointer, err := service.Store(ctx, userID, key, []byte("data"))
	require.NoError(t, err)

	// The pointer is the record's blob key and addresses the ciphertext.
	record, err := records.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, record.BlobKey, pointer)

	blobExists, err := blobs.Exists(pointer)
	require.NoError(t, err)
	assert.True(t, blobExists)

	// Deterministic per user: a rewrite yields the same pointer.
	again, err := service.Store(ctx, userID, key, []byte("data v2"))
	require.NoError(t, err)
	assert.Equal(t, pointer, again)
}

func TestStore_EmptyPayload(t *testing.T) {
	service, _, _ := newTestVault(t)

	_, err := service.Store(context.Background(), []byte("user-1"), testKey(t), nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestStore_FreshNoncePerWrite(t *testing.T) {
	service, records, blobs := newTestVault(t)
	ctx := context.Background()
	userID := []byte("user-1")
	key := testKey(t)
	plaintext := []byte("same plaintext")

	_, err := service.Store(ctx, userID, key, plaintext)
	require.NoError(t, err)
	first, err := records.Get(ctx, userID)
	require.NoError(t, err)
	firstBlob, err := blobs.Get(first.BlobKey)
	require.NoError(t, err)
	firstNonce := append([]byte(nil), first.Nonce...)

	_, err = service.Store(ctx, userID, key, plaintext)
	require.NoError(t, err)
	second, err := records.Get(ctx, userID)
	require.NoError(t, err)
	secondBlob, err := blobs.Get(second.BlobKey)
	require.NoError(t, err)

	// Same plaintext, same key: different nonce, different ciphertext.
	assert.NotEqual(t, firstNonce, second.Nonce)
	assert.NotEqual(t, firstBlob, secondBlob)

	// And the latest write wins.
	got, err := service.Retrieve(ctx, userID, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestStore_ReplacesExistingBlob(t *testing.T) {
	service, _, _ := newTestVault(t)
	ctx := context.Background()
	userID := []byte("user-1")
	key := testKey(t)

	_, err := service.Store(ctx, userID, key, []byte("v1"))
	require.NoError(t, err)
	_, err = service.Store(ctx, userID, key, []byte("v2"))
	require.NoError(t, err)

	got, err := service.Retrieve(ctx, userID, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestRetrieve_NoBlob(t *testing.T) {
	service, _, _ := newTestVault(t)

	_, err := service.Retrieve(context.Background(), []byte("user-1"), testKey(t))
	assert.ErrorIs(t, err, ErrNoBlob)
}

func TestRetrieve_BlobMissingFromStorage(t *testing.T) {
	service, records, blobs := newTestVault(t)
	ctx := context.Background()
	userID := []byte("user-1")
	key := testKey(t)

	_, err := service.Store(ctx, userID, key, []byte("data"))
	require.NoError(t, err)

	record, err := records.Get(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, blobs.Delete(record.BlobKey))

	_, err = service.Retrieve(ctx, userID, key)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestRetrieve_WrongKey(t *testing.T) {
	service, _, _ := newTestVault(t)
	ctx := context.Background()
	userID := []byte("user-1")

	_, err := service.Store(ctx, userID, testKey(t), []byte("data"))
	require.NoError(t, err)

	// A different PRF output derives a different key; the ciphertext
	// fails authentication rather than decrypting to garbage.
	_, err = service.Retrieve(ctx, userID, testKey(t))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestRetrieve_CorruptedCiphertext(t *testing.T) {
	service, records, blobs := newTestVault(t)
	ctx := context.Background()
	userID := []byte("user-1")
	key := testKey(t)

	_, err := service.Store(ctx, userID, key, []byte("data"))
	require.NoError(t, err)

	record, err := records.Get(ctx, userID)
	require.NoError(t, err)
	ciphertext, err := blobs.Get(record.BlobKey)
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF
	require.NoError(t, blobs.Put(record.BlobKey, ciphertext, nil))

	_, err = service.Retrieve(ctx, userID, key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestExists(t *testing.T) {
	service, _, _ := newTestVault(t)
	ctx := context.Background()
	userID := []byte("user-1")

	exists, err := service.Exists(ctx, userID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = service.Store(ctx, userID, testKey(t), []byte("data"))
	require.NoError(t, err)

	exists, err = service.Exists(ctx, userID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDelete(t *testing.T) {
	service, records, blobs := newTestVault(t)
	ctx := context.Background()
	userID := []byte("user-1")
	key := testKey(t)

	assert.ErrorIs(t, service.Delete(ctx, userID), ErrNoBlob)

	_, err := service.Store(ctx, userID, key, []byte("data"))
	require.NoError(t, err)

	record, err := records.Get(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, userID))

	exists, err := service.Exists(ctx, userID)
	require.NoError(t, err)
	assert.False(t, exists)

	blobExists, err := blobs.Exists(record.BlobKey)
	require.NoError(t, err)
	assert.False(t, blobExists)
}

func TestUsersAreIsolated(t *testing.T) {
	service, _, _ := newTestVault(t)
	ctx := context.Background()

	aliceKey := testKey(t)
	bobKey := testKey(t)

	_, err := service.Store(ctx, []byte("alice"), aliceKey, []byte("alice data"))
	require.NoError(t, err)
	_, err = service.Store(ctx, []byte("bob"), bobKey, []byte("bob data"))
	require.NoError(t, err)

	got, err := service.Retrieve(ctx, []byte("alice"), aliceKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("alice data"), got)

	got, err = service.Retrieve(ctx, []byte("bob"), bobKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("bob data"), got)
}
