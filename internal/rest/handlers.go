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

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkey-vault/internal/config"
	"github.com/jeremyhahn/go-passkey-vault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-passkey-vault/pkg/kdf"
	"github.com/jeremyhahn/go-passkey-vault/pkg/metrics"
	"github.com/jeremyhahn/go-passkey-vault/pkg/vault"
	"github.com/jeremyhahn/go-passkey-vault/pkg/webauthn"
)

// HandlerContext holds the services the REST handlers operate on.
type HandlerContext struct {
	ceremonies  *webauthn.Service
	vault       *vault.Service
	users       webauthn.UserStore
	tokens      *webauthn.DefaultJWTGenerator
	keyLifetime string
	sessionKeys *sessionKeyCache
	version     string
	logger      logger.Logger
}

// NewHandlerContext creates a new handler context.
func NewHandlerContext(
	ceremonies *webauthn.Service,
	vaultService *vault.Service,
	users webauthn.UserStore,
	tokens *webauthn.DefaultJWTGenerator,
	keyLifetime string,
	version string,
	log logger.Logger,
) *HandlerContext {
	return &HandlerContext{
		ceremonies:  ceremonies,
		vault:       vaultService,
		users:       users,
		tokens:      tokens,
		keyLifetime: keyLifetime,
		sessionKeys: newSessionKeyCache(),
		version:     version,
		logger:      log,
	}
}

// HealthHandler reports server liveness.
func (h *HandlerContext) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Version: h.version}, http.StatusOK)
}

// BeginRegistrationHandler starts a WebAuthn registration ceremony.
func (h *HandlerContext) BeginRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	var req BeginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeErrorWithMessage(w, ErrInvalidRequest, "username is required", http.StatusBadRequest)
		return
	}

	options, err := h.ceremonies.BeginRegistration(r.Context(), req.Username, req.DisplayName)
	if err != nil {
		handleError(w, err)
		return
	}

	metrics.RecordCeremonyStarted(string(webauthn.CeremonyRegistration))
	writeJSON(w, options, http.StatusOK)
}

// FinishRegistrationHandler completes a WebAuthn registration ceremony.
func (h *HandlerContext) FinishRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	var req FinishRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || len(req.Response) == 0 {
		writeErrorWithMessage(w, ErrInvalidRequest, "username and response are required", http.StatusBadRequest)
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "malformed credential creation response", http.StatusBadRequest)
		return
	}

	result, err := h.ceremonies.FinishRegistration(r.Context(), req.Username, parsed)
	if err != nil {
		metrics.RecordCeremonyCompleted(string(webauthn.CeremonyRegistration), metrics.OutcomeError)
		handleError(w, err)
		return
	}

	outcome := metrics.OutcomeVerified
	if !result.Verified {
		outcome = metrics.OutcomeRejected
	}
	metrics.RecordCeremonyCompleted(string(webauthn.CeremonyRegistration), outcome)

	writeJSON(w, FinishRegistrationResponse{
		Verified:   result.Verified,
		PRFEnabled: result.PRFEnabled,
	}, http.StatusOK)
}

// BeginAuthenticationHandler starts a WebAuthn authentication ceremony.
func (h *HandlerContext) BeginAuthenticationHandler(w http.ResponseWriter, r *http.Request) {
	var req BeginAuthenticationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeErrorWithMessage(w, ErrInvalidRequest, "username is required", http.StatusBadRequest)
		return
	}

	options, err := h.ceremonies.BeginAuthentication(r.Context(), req.Username)
	if err != nil {
		handleError(w, err)
		return
	}

	metrics.RecordCeremonyStarted(string(webauthn.CeremonyAuthentication))
	writeJSON(w, options, http.StatusOK)
}

// FinishAuthenticationHandler completes a WebAuthn authentication ceremony.
// In session key-lifetime mode the derived key is cached against the issued
// bearer token and the PRF output is withheld from the response.
func (h *HandlerContext) FinishAuthenticationHandler(w http.ResponseWriter, r *http.Request) {
	var req FinishAuthenticationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || len(req.Response) == 0 {
		writeErrorWithMessage(w, ErrInvalidRequest, "username and response are required", http.StatusBadRequest)
		return
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "malformed credential assertion response", http.StatusBadRequest)
		return
	}

	result, err := h.ceremonies.FinishAuthentication(r.Context(), req.Username, parsed)
	if err != nil {
		if webauthn.IsCounterRegression(err) {
			metrics.RecordCounterRegression()
		}
		metrics.RecordCeremonyCompleted(string(webauthn.CeremonyAuthentication), metrics.OutcomeError)
		handleError(w, err)
		return
	}

	if !result.Verified {
		metrics.RecordCeremonyCompleted(string(webauthn.CeremonyAuthentication), metrics.OutcomeRejected)
		writeJSON(w, FinishAuthenticationResponse{Verified: false}, http.StatusOK)
		return
	}

	metrics.RecordCeremonyCompleted(string(webauthn.CeremonyAuthentication), metrics.OutcomeVerified)
	metrics.RecordPRFEvaluation(result.PRFOutput != nil)

	resp := FinishAuthenticationResponse{
		Verified: true,
		Token:    result.Token,
	}

	if h.keyLifetime == config.KeyLifetimeSession {
		if result.PRFOutput != nil && result.Token != "" {
			if err := h.cacheSessionKey(r, req.Username, result.PRFOutput, result.Token); err != nil {
				handleError(w, err)
				return
			}
		}
	} else if result.PRFOutput != nil {
		resp.PRFOutput = base64.RawURLEncoding.EncodeToString(result.PRFOutput)
	}

	writeJSON(w, resp, http.StatusOK)
}

// cacheSessionKey derives the vault key from a fresh PRF output and caches
// it against the bearer token until the token expires.
func (h *HandlerContext) cacheSessionKey(r *http.Request, username string, prfOutput []byte, token string) error {
	user, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		return err
	}

	key, err := kdf.DeriveKey(prfOutput, user.PRFSalt())
	if err != nil {
		metrics.RecordKeyDerivation(metrics.StatusError)
		return err
	}
	metrics.RecordKeyDerivation(metrics.StatusSuccess)

	h.sessionKeys.Put(token, user.WebAuthnID(), key, time.Now().Add(h.tokens.ExpiresIn()))
	return nil
}

// StoreBlobHandler encrypts and stores the caller's blob.
func (h *HandlerContext) StoreBlobHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req StoreBlobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "malformed request body", http.StatusBadRequest)
		return
	}

	payload, err := decodeBase64(req.Payload)
	if err != nil || len(payload) == 0 {
		writeErrorWithMessage(w, ErrInvalidRequest, "payload must be non-empty base64", http.StatusBadRequest)
		return
	}

	userID, key, ephemeral, err := h.resolveKey(r, req.Username, req.PRFOutput)
	if err != nil {
		metrics.RecordVaultOperation(metrics.OpStore, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}
	if ephemeral {
		defer key.Zero()
	}

	pointer, err := h.vault.Store(r.Context(), userID, key, payload)
	if err != nil {
		metrics.RecordVaultOperation(metrics.OpStore, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}

	metrics.RecordVaultOperation(metrics.OpStore, metrics.StatusSuccess, time.Since(start).Seconds())
	writeJSON(w, StoreBlobResponse{Status: "stored", Pointer: pointer}, http.StatusOK)
}

// RetrieveBlobHandler decrypts and returns the caller's blob.
func (h *HandlerContext) RetrieveBlobHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req RetrieveBlobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorWithMessage(w, ErrInvalidRequest, "malformed request body", http.StatusBadRequest)
		return
	}

	userID, key, ephemeral, err := h.resolveKey(r, req.Username, req.PRFOutput)
	if err != nil {
		metrics.RecordVaultOperation(metrics.OpRetrieve, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}
	if ephemeral {
		defer key.Zero()
	}

	payload, err := h.vault.Retrieve(r.Context(), userID, key)
	if err != nil {
		metrics.RecordVaultOperation(metrics.OpRetrieve, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}

	metrics.RecordVaultOperation(metrics.OpRetrieve, metrics.StatusSuccess, time.Since(start).Seconds())
	writeJSON(w, RetrieveBlobResponse{
		Payload: base64.RawURLEncoding.EncodeToString(payload),
	}, http.StatusOK)
}

// ExistsBlobHandler reports whether the caller has a stored blob. No key
// material is required; only the record is consulted.
func (h *HandlerContext) ExistsBlobHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID, err := h.resolveUser(r, r.URL.Query().Get("username"))
	if err != nil {
		metrics.RecordVaultOperation(metrics.OpExists, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}

	exists, err := h.vault.Exists(r.Context(), userID)
	if err != nil {
		metrics.RecordVaultOperation(metrics.OpExists, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}

	metrics.RecordVaultOperation(metrics.OpExists, metrics.StatusSuccess, time.Since(start).Seconds())
	writeJSON(w, ExistsBlobResponse{Exists: exists}, http.StatusOK)
}

// DeleteBlobHandler removes the caller's blob and record.
func (h *HandlerContext) DeleteBlobHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID, err := h.resolveUser(r, r.URL.Query().Get("username"))
	if err != nil {
		metrics.RecordVaultOperation(metrics.OpDelete, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}

	if err := h.vault.Delete(r.Context(), userID); err != nil {
		metrics.RecordVaultOperation(metrics.OpDelete, metrics.StatusError, time.Since(start).Seconds())
		handleError(w, err)
		return
	}

	metrics.RecordVaultOperation(metrics.OpDelete, metrics.StatusSuccess, time.Since(start).Seconds())
	writeJSON(w, StatusResponse{Status: "deleted"}, http.StatusOK)
}

// resolveKey resolves the vault key for a blob request. In session mode the
// bearer token addresses a cached key; in ephemeral mode the key is derived
// from the caller-supplied PRF output and the user's fixed salt. The third
// return value reports whether the caller owns the key and must zero it.
func (h *HandlerContext) resolveKey(r *http.Request, username, prfOutput string) ([]byte, *kdf.Key, bool, error) {
	if h.keyLifetime == config.KeyLifetimeSession {
		token := bearerToken(r)
		if token == "" {
			return nil, nil, false, ErrUnauthorized
		}
		key, userID, ok := h.sessionKeys.Get(token)
		if !ok {
			return nil, nil, false, ErrUnauthorized
		}
		return userID, key, false, nil
	}

	if username == "" || prfOutput == "" {
		return nil, nil, false, ErrInvalidRequest
	}

	user, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		return nil, nil, false, err
	}

	output, err := decodeBase64(prfOutput)
	if err != nil {
		return nil, nil, false, kdf.ErrInvalidKeyMaterial
	}

	key, err := kdf.DeriveKey(output, user.PRFSalt())
	if err != nil {
		metrics.RecordKeyDerivation(metrics.StatusError)
		return nil, nil, false, err
	}
	metrics.RecordKeyDerivation(metrics.StatusSuccess)

	return user.WebAuthnID(), key, true, nil
}

// resolveUser resolves the calling user for key-less blob operations.
func (h *HandlerContext) resolveUser(r *http.Request, username string) ([]byte, error) {
	if h.keyLifetime == config.KeyLifetimeSession {
		token := bearerToken(r)
		if token == "" {
			return nil, ErrUnauthorized
		}
		_, userID, ok := h.sessionKeys.Get(token)
		if !ok {
			return nil, ErrUnauthorized
		}
		return userID, nil
	}

	if username == "" {
		return nil, ErrInvalidRequest
	}
	user, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		return nil, err
	}
	return user.WebAuthnID(), nil
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// decodeBase64 accepts the encodings clients are known to emit.
func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.URLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
