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
	"encoding/base64"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationExtensions(t *testing.T) {
	ext := registrationExtensions()

	// Registration enables PRF without an evaluation input.
	prf, ok := ext[ExtensionPRF].(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, prf)
}

func TestAssertionExtensions(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")
	ext := assertionExtensions(salt)

	got := prfSaltFromExtensions(ext)
	assert.Equal(t, salt, got)
}

func TestPRFEnabled(t *testing.T) {
	tests := []struct {
		name    string
		outputs protocol.AuthenticationExtensionsClientOutputs
		want    bool
	}{
		{
			name:    "enabled",
			outputs: protocol.AuthenticationExtensionsClientOutputs{"prf": map[string]interface{}{"enabled": true}},
			want:    true,
		},
		{
			name:    "disabled",
			outputs: protocol.AuthenticationExtensionsClientOutputs{"prf": map[string]interface{}{"enabled": false}},
			want:    false,
		},
		{
			name:    "absent",
			outputs: protocol.AuthenticationExtensionsClientOutputs{},
			want:    false,
		},
		{
			name:    "malformed",
			outputs: protocol.AuthenticationExtensionsClientOutputs{"prf": "yes"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PRFEnabled(tt.outputs))
		})
	}
}

func TestPRFOutputFromResults(t *testing.T) {
	raw := []byte("abcdefghijklmnopqrstuvwxyz012345")

	tests := []struct {
		name    string
		outputs protocol.AuthenticationExtensionsClientOutputs
		want    []byte
		ok      bool
	}{
		{
			name: "byte slice result",
			outputs: protocol.AuthenticationExtensionsClientOutputs{
				"prf": map[string]interface{}{
					"results": map[string]interface{}{"first": raw},
				},
			},
			want: raw,
			ok:   true,
		},
		{
			name: "base64url result",
			outputs: protocol.AuthenticationExtensionsClientOutputs{
				"prf": map[string]interface{}{
					"results": map[string]interface{}{
						"first": base64.RawURLEncoding.EncodeToString(raw),
					},
				},
			},
			want: raw,
			ok:   true,
		},
		{
			name: "standard base64 result",
			outputs: protocol.AuthenticationExtensionsClientOutputs{
				"prf": map[string]interface{}{
					"results": map[string]interface{}{
						"first": base64.StdEncoding.EncodeToString(raw),
					},
				},
			},
			want: raw,
			ok:   true,
		},
		{
			name:    "no prf extension",
			outputs: protocol.AuthenticationExtensionsClientOutputs{},
			ok:      false,
		},
		{
			name: "no results",
			outputs: protocol.AuthenticationExtensionsClientOutputs{
				"prf": map[string]interface{}{"enabled": true},
			},
			ok: false,
		},
		{
			name: "empty result",
			outputs: protocol.AuthenticationExtensionsClientOutputs{
				"prf": map[string]interface{}{
					"results": map[string]interface{}{"first": []byte{}},
				},
			},
			ok: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PRFOutputFromResults(tt.outputs)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMockAuthenticator_PRFOutputDeterministic(t *testing.T) {
	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	salt := []byte("0123456789abcdef0123456789abcdef")
	first := auth.PRFOutput(salt)
	second := auth.PRFOutput(salt)

	assert.Len(t, first, 32)
	assert.Equal(t, first, second)

	// A different salt produces a different output.
	other := auth.PRFOutput([]byte("fedcba9876543210fedcba9876543210"))
	assert.NotEqual(t, first, other)

	// A different credential produces a different output for the same salt.
	auth2, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	assert.NotEqual(t, first, auth2.PRFOutput(salt))
}
