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

import "errors"

var (
	// ErrNoBlob indicates the user has no stored blob. A first-time user
	// state, not a fault.
	ErrNoBlob = errors.New("vault: no blob stored for user")

	// ErrBlobNotFound indicates the user's record points at a blob the
	// storage backend no longer holds. Unlike ErrNoBlob this is an
	// integrity fault, not an empty-state.
	ErrBlobNotFound = errors.New("vault: blob missing from storage")

	// ErrDecryptionFailed indicates the ciphertext did not authenticate
	// under the presented key. Wrong key and corrupted blob are
	// indistinguishable by construction.
	ErrDecryptionFailed = errors.New("vault: decryption failed")

	// ErrEmptyPayload indicates a store request carried no plaintext.
	ErrEmptyPayload = errors.New("vault: empty payload")

	// ErrRecordNotFound indicates a record store miss.
	ErrRecordNotFound = errors.New("vault: record not found")
)
