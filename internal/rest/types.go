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

package rest

import "encoding/json"

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// BeginRegistrationRequest starts a registration ceremony.
type BeginRegistrationRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// FinishRegistrationRequest completes a registration ceremony. Response is
// the raw credential creation response produced by the browser.
type FinishRegistrationRequest struct {
	Username string          `json:"username"`
	Response json.RawMessage `json:"response"`
}

// FinishRegistrationResponse reports the registration outcome.
type FinishRegistrationResponse struct {
	Verified   bool `json:"verified"`
	PRFEnabled bool `json:"prf_enabled"`
}

// BeginAuthenticationRequest starts an authentication ceremony.
type BeginAuthenticationRequest struct {
	Username string `json:"username"`
}

// FinishAuthenticationRequest completes an authentication ceremony.
// Response is the raw credential assertion response from the browser.
type FinishAuthenticationRequest struct {
	Username string          `json:"username"`
	Response json.RawMessage `json:"response"`
}

// FinishAuthenticationResponse reports the authentication outcome. The PRF
// output is base64url-encoded and absent when the authenticator did not
// evaluate the extension.
type FinishAuthenticationResponse struct {
	Verified  bool   `json:"verified"`
	PRFOutput string `json:"prf_output,omitempty"`
	Token     string `json:"token,omitempty"`
}

// StoreBlobRequest stores the caller's encrypted blob. PRFOutput carries
// the base64url PRF evaluation from the last authentication; it is ignored
// in session key-lifetime mode, where the bearer token addresses the
// cached key instead.
type StoreBlobRequest struct {
	Username  string `json:"username"`
	PRFOutput string `json:"prf_output,omitempty"`
	Payload   string `json:"payload"`
}

// RetrieveBlobRequest retrieves the caller's blob.
type RetrieveBlobRequest struct {
	Username  string `json:"username"`
	PRFOutput string `json:"prf_output,omitempty"`
}

// RetrieveBlobResponse carries the decrypted payload, base64url-encoded.
type RetrieveBlobResponse struct {
	Payload string `json:"payload"`
}

// ExistsBlobResponse reports whether the user has a stored blob.
type ExistsBlobResponse struct {
	Exists bool `json:"exists"`
}

// StoreBlobResponse acknowledges a store and returns the blob pointer.
type StoreBlobResponse struct {
	Status  string `json:"status"`
	Pointer string `json:"pointer"`
}

// StatusResponse is a minimal acknowledgement body.
type StatusResponse struct {
	Status string `json:"status"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
