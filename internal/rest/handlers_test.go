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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey-vault/internal/config"
	"github.com/jeremyhahn/go-passkey-vault/pkg/storage"
	"github.com/jeremyhahn/go-passkey-vault/pkg/vault"
	"github.com/jeremyhahn/go-passkey-vault/pkg/webauthn"
)

const (
	testRPID   = "example.com"
	testOrigin = "https://example.com"
)

type testServer struct {
	server *Server
	users  *webauthn.MemoryUserStore
}

func newTestServer(t *testing.T, keyLifetime string) *testServer {
	t.Helper()

	users := webauthn.NewMemoryUserStore()
	challenges := webauthn.NewMemoryChallengeStore(5 * time.Minute)
	creds := webauthn.NewMemoryCredentialStore()

	var tokens *webauthn.DefaultJWTGenerator
	if keyLifetime == config.KeyLifetimeSession {
		var err error
		tokens, err = webauthn.NewDefaultJWTGenerator(&webauthn.JWTGeneratorConfig{
			Secret: []byte("0123456789abcdef0123456789abcdef"),
		})
		require.NoError(t, err)
	}

	var tokenGenerator webauthn.TokenGenerator
	if tokens != nil {
		tokenGenerator = tokens
	}

	ceremonies, err := webauthn.NewService(webauthn.ServiceParams{
		Config: &webauthn.Config{
			RPID:          testRPID,
			RPDisplayName: "Example",
			RPOrigins:     []string{testOrigin},
		},
		UserStore:       users,
		ChallengeStore:  challenges,
		CredentialStore: creds,
		TokenGenerator:  tokenGenerator,
	})
	require.NoError(t, err)

	vaultService, err := vault.NewService(vault.ServiceParams{
		RecordStore: vault.NewMemoryRecordStore(),
		BlobStore:   storage.NewMemory(),
	})
	require.NoError(t, err)

	server, err := NewServer(&Config{
		CeremonyService: ceremonies,
		VaultService:    vaultService,
		UserStore:       users,
		TokenGenerator:  tokens,
		KeyLifetime:     keyLifetime,
	})
	require.NoError(t, err)

	return &testServer{server: server, users: users}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// register runs a full registration ceremony over HTTP.
func (ts *testServer) register(t *testing.T, username string, auth *webauthn.MockAuthenticator) FinishRegistrationResponse {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/webauthn/register/begin",
		BeginRegistrationRequest{Username: username}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var options protocol.CredentialCreation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &options))

	user, err := ts.users.GetByUsername(t.Context(), username)
	require.NoError(t, err)

	response, err := auth.SignRegistration(&options, user.WebAuthnID(), testOrigin)
	require.NoError(t, err)

	raw, err := json.Marshal(response.Raw)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodPost, "/api/v1/webauthn/register/finish",
		FinishRegistrationRequest{Username: username, Response: raw}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[FinishRegistrationResponse](t, rec)
}

// authenticate runs a full authentication ceremony over HTTP.
func (ts *testServer) authenticate(t *testing.T, username string, auth *webauthn.MockAuthenticator) (FinishAuthenticationResponse, *httptest.ResponseRecorder) {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/webauthn/authenticate/begin",
		BeginAuthenticationRequest{Username: username}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var options protocol.CredentialAssertion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &options))

	user, err := ts.users.GetByUsername(t.Context(), username)
	require.NoError(t, err)

	response, err := auth.SignAssertion(&options, user.WebAuthnID(), testOrigin)
	require.NoError(t, err)

	raw, err := json.Marshal(response.Raw)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodPost, "/api/v1/webauthn/authenticate/finish",
		FinishAuthenticationRequest{Username: username, Response: raw}, nil)
	if rec.Code != http.StatusOK {
		return FinishAuthenticationResponse{}, rec
	}
	return decodeBody[FinishAuthenticationResponse](t, rec), rec
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	health := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
}

func TestBeginRegistration_RequiresUsername(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	rec := ts.do(t, http.MethodPost, "/api/v1/webauthn/register/begin",
		BeginRegistrationRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegistrationFlow(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	result := ts.register(t, "alice", auth)
	assert.True(t, result.Verified)
	assert.True(t, result.PRFEnabled)
}

func TestAuthenticationFlow(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.register(t, "alice", auth)

	result, _ := ts.authenticate(t, "alice", auth)
	assert.True(t, result.Verified)
	assert.NotEmpty(t, result.PRFOutput)
	assert.Empty(t, result.Token)
}

func TestAuthentication_UnknownUser(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	rec := ts.do(t, http.MethodPost, "/api/v1/webauthn/authenticate/begin",
		BeginAuthenticationRequest{Username: "nobody"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVaultFlow_Ephemeral(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.register(t, "alice", auth)

	result, _ := ts.authenticate(t, "alice", auth)
	require.True(t, result.Verified)
	require.NotEmpty(t, result.PRFOutput)

	// Nothing stored yet
	rec := ts.do(t, http.MethodGet, "/api/v1/vault/blob/exists?username=alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[ExistsBlobResponse](t, rec).Exists)

	// Store returns the blob pointer
	payload := base64.RawURLEncoding.EncodeToString([]byte("secret vault data"))
	rec = ts.do(t, http.MethodPut, "/api/v1/vault/blob", StoreBlobRequest{
		Username:  "alice",
		PRFOutput: result.PRFOutput,
		Payload:   payload,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored := decodeBody[StoreBlobResponse](t, rec)
	assert.Equal(t, "stored", stored.Status)
	assert.True(t, strings.HasPrefix(stored.Pointer, "vault/"), stored.Pointer)

	// Exists
	rec = ts.do(t, http.MethodGet, "/api/v1/vault/blob/exists?username=alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[ExistsBlobResponse](t, rec).Exists)

	// A second authentication derives the identical key and can decrypt.
	second, _ := ts.authenticate(t, "alice", auth)
	require.True(t, second.Verified)
	assert.Equal(t, result.PRFOutput, second.PRFOutput)

	rec = ts.do(t, http.MethodPost, "/api/v1/vault/blob/retrieve", RetrieveBlobRequest{
		Username:  "alice",
		PRFOutput: second.PRFOutput,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, payload, decodeBody[RetrieveBlobResponse](t, rec).Payload)
}

func TestVaultRetrieve_WrongKey(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.register(t, "alice", auth)

	result, _ := ts.authenticate(t, "alice", auth)
	require.True(t, result.Verified)

	rec := ts.do(t, http.MethodPut, "/api/v1/vault/blob", StoreBlobRequest{
		Username:  "alice",
		PRFOutput: result.PRFOutput,
		Payload:   base64.RawURLEncoding.EncodeToString([]byte("data")),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A PRF output from a different credential derives a different key.
	wrong := make([]byte, 32)
	copy(wrong, []byte("not the real prf output at all!!"))
	rec = ts.do(t, http.MethodPost, "/api/v1/vault/blob/retrieve", RetrieveBlobRequest{
		Username:  "alice",
		PRFOutput: base64.RawURLEncoding.EncodeToString(wrong),
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVaultRetrieve_NoBlob(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.register(t, "alice", auth)

	result, _ := ts.authenticate(t, "alice", auth)
	require.True(t, result.Verified)

	rec := ts.do(t, http.MethodPost, "/api/v1/vault/blob/retrieve", RetrieveBlobRequest{
		Username:  "alice",
		PRFOutput: result.PRFOutput,
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVaultDelete(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.register(t, "alice", auth)

	result, _ := ts.authenticate(t, "alice", auth)
	require.True(t, result.Verified)

	rec := ts.do(t, http.MethodPut, "/api/v1/vault/blob", StoreBlobRequest{
		Username:  "alice",
		PRFOutput: result.PRFOutput,
		Payload:   base64.RawURLEncoding.EncodeToString([]byte("data")),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/vault/blob?username=alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/vault/blob/exists?username=alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[ExistsBlobResponse](t, rec).Exists)
}

func TestVaultFlow_Session(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeSession)

	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.register(t, "alice", auth)

	result, _ := ts.authenticate(t, "alice", auth)
	require.True(t, result.Verified)
	require.NotEmpty(t, result.Token)

	// Session mode withholds the PRF output from the client.
	assert.Empty(t, result.PRFOutput)

	bearer := map[string]string{"Authorization": "Bearer " + result.Token}
	payload := base64.RawURLEncoding.EncodeToString([]byte("session data"))

	rec := ts.do(t, http.MethodPut, "/api/v1/vault/blob", StoreBlobRequest{
		Payload: payload,
	}, bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeBody[StoreBlobResponse](t, rec).Pointer)

	rec = ts.do(t, http.MethodGet, "/api/v1/vault/blob/exists", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[ExistsBlobResponse](t, rec).Exists)

	rec = ts.do(t, http.MethodPost, "/api/v1/vault/blob/retrieve",
		RetrieveBlobRequest{}, bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, payload, decodeBody[RetrieveBlobResponse](t, rec).Payload)
}

func TestVaultSession_MissingToken(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeSession)

	rec := ts.do(t, http.MethodPut, "/api/v1/vault/blob", StoreBlobRequest{
		Payload: base64.RawURLEncoding.EncodeToString([]byte("data")),
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/vault/blob/exists", nil,
		map[string]string{"Authorization": "Bearer bogus"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthentication_CounterRegressionOverHTTP(t *testing.T) {
	ts := newTestServer(t, config.KeyLifetimeEphemeral)

	auth, err := webauthn.NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	ts.register(t, "alice", auth)

	result, _ := ts.authenticate(t, "alice", auth)
	require.True(t, result.Verified)

	auth.SetSignCount(0)
	_, rec := ts.authenticate(t, "alice", auth)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
