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

package kdf

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestDeriveKey_Deterministic(t *testing.T) {
	prfOutput := randomBytes(t, PRFOutputSize)
	salt := randomBytes(t, SaltSize)

	first, err := DeriveKey(prfOutput, salt)
	require.NoError(t, err)

	second, err := DeriveKey(prfOutput, salt)
	require.NoError(t, err)

	// Same inputs, bit-identical key.
	assert.True(t, first.Equal(second))
}

func TestDeriveKey_DistinctInputs(t *testing.T) {
	prfOutput := randomBytes(t, PRFOutputSize)
	salt := randomBytes(t, SaltSize)

	base, err := DeriveKey(prfOutput, salt)
	require.NoError(t, err)

	otherPRF, err := DeriveKey(randomBytes(t, PRFOutputSize), salt)
	require.NoError(t, err)
	assert.False(t, base.Equal(otherPRF))

	otherSalt, err := DeriveKey(prfOutput, randomBytes(t, SaltSize))
	require.NoError(t, err)
	assert.False(t, base.Equal(otherSalt))
}

func TestDeriveKey_InvalidInputs(t *testing.T) {
	tests := []struct {
		name      string
		prfOutput []byte
		salt      []byte
	}{
		{"nil prf output", nil, make([]byte, SaltSize)},
		{"short prf output", make([]byte, 16), make([]byte, SaltSize)},
		{"long prf output", make([]byte, 64), make([]byte, SaltSize)},
		{"nil salt", make([]byte, PRFOutputSize), nil},
		{"short salt", make([]byte, PRFOutputSize), make([]byte, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveKey(tt.prfOutput, tt.salt)
			assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
		})
	}
}

func TestKey_AEADRoundTrip(t *testing.T) {
	key, err := DeriveKey(randomBytes(t, PRFOutputSize), randomBytes(t, SaltSize))
	require.NoError(t, err)

	aead, err := key.AEAD()
	require.NoError(t, err)
	assert.Equal(t, 12, aead.NonceSize())

	nonce := randomBytes(t, aead.NonceSize())
	plaintext := []byte("vault contents")

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := aead.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestKey_WrongKeyFailsDecryption(t *testing.T) {
	salt := randomBytes(t, SaltSize)

	k1, err := DeriveKey(randomBytes(t, PRFOutputSize), salt)
	require.NoError(t, err)
	k2, err := DeriveKey(randomBytes(t, PRFOutputSize), salt)
	require.NoError(t, err)

	aead1, err := k1.AEAD()
	require.NoError(t, err)
	aead2, err := k2.AEAD()
	require.NoError(t, err)

	nonce := randomBytes(t, aead1.NonceSize())
	ciphertext := aead1.Seal(nil, nonce, []byte("secret"), nil)

	_, err = aead2.Open(nil, nonce, ciphertext, nil)
	assert.Error(t, err)
}

func TestKey_StringRedacted(t *testing.T) {
	key, err := DeriveKey(randomBytes(t, PRFOutputSize), randomBytes(t, SaltSize))
	require.NoError(t, err)

	s := key.String()
	assert.Equal(t, "kdf.Key(redacted)", s)
}

func TestKey_Zero(t *testing.T) {
	prfOutput := randomBytes(t, PRFOutputSize)
	salt := randomBytes(t, SaltSize)

	key, err := DeriveKey(prfOutput, salt)
	require.NoError(t, err)

	same, err := DeriveKey(prfOutput, salt)
	require.NoError(t, err)
	require.True(t, key.Equal(same))

	// After zeroing, the key no longer matches its own derivation.
	key.Zero()
	assert.False(t, key.Equal(same))
}
