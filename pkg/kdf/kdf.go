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

// Package kdf turns a WebAuthn PRF output into an AES-256-GCM key using
// HKDF-SHA256 (RFC 5869). For a fixed (prfOutput, salt) pair the derived
// key is bit-identical on every call, across processes - this determinism
// is the entire basis for cross-session decryption.
//
// Key material never leaves the package: consumers obtain a cipher.AEAD
// from the Key rather than raw bytes, and the Key cannot be serialized.
package kdf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// PRFOutputSize is the required length of the authenticator PRF output.
	PRFOutputSize = 32

	// SaltSize is the required length of the per-user HKDF salt.
	SaltSize = 32

	// KeySize is the length of the derived AES-256 key.
	KeySize = 32
)

// info binds derived keys to this protocol. Changing it orphans every
// blob encrypted under the previous value.
var info = []byte("go-passkey-vault/aes256gcm/v1")

// ErrInvalidKeyMaterial indicates the PRF output or salt has the wrong length.
var ErrInvalidKeyMaterial = errors.New("kdf: invalid key material")

// Key is a derived AES-256 key. The raw bytes are unexported and there is
// no accessor, marshaler, or Stringer that reveals them; the only way to
// use the key is through AEAD.
type Key struct {
	bytes [KeySize]byte
}

// DeriveKey derives an AES-256 key from a 32-byte PRF output and a 32-byte
// salt. Derivation is deterministic and cannot fail once the inputs are
// well-formed.
func DeriveKey(prfOutput, salt []byte) (*Key, error) {
	if len(prfOutput) != PRFOutputSize || len(salt) != SaltSize {
		return nil, ErrInvalidKeyMaterial
	}

	reader := hkdf.New(sha256.New, prfOutput, salt, info)

	key := &Key{}
	if _, err := io.ReadFull(reader, key.bytes[:]); err != nil {
		return nil, err
	}
	return key, nil
}

// AEAD returns an AES-256-GCM cipher for this key.
func (k *Key) AEAD() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.bytes[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Equal reports whether both keys hold identical material, in constant time.
func (k *Key) Equal(other *Key) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(k.bytes[:], other.bytes[:]) == 1
}

// Zero overwrites the key material. The Key must not be used afterwards.
func (k *Key) Zero() {
	for i := range k.bytes {
		k.bytes[i] = 0
	}
}

// String redacts the key material.
func (k *Key) String() string {
	return "kdf.Key(redacted)"
}
