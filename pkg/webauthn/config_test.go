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
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid",
			config: Config{
				RPID:          "example.com",
				RPDisplayName: "Example",
				RPOrigins:     []string{"https://example.com"},
			},
		},
		{
			name: "missing rpid",
			config: Config{
				RPDisplayName: "Example",
				RPOrigins:     []string{"https://example.com"},
			},
			wantErr: true,
		},
		{
			name: "missing display name",
			config: Config{
				RPID:      "example.com",
				RPOrigins: []string{"https://example.com"},
			},
			wantErr: true,
		},
		{
			name: "missing origins",
			config: Config{
				RPID:          "example.com",
				RPDisplayName: "Example",
			},
			wantErr: true,
		},
		{
			name: "invalid user verification",
			config: Config{
				RPID:             "example.com",
				RPDisplayName:    "Example",
				RPOrigins:        []string{"https://example.com"},
				UserVerification: "maybe",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	config := Config{}
	config.SetDefaults()

	assert.Equal(t, 60*time.Second, config.Timeout)
	assert.Equal(t, 5*time.Minute, config.ChallengeTTL)
	assert.Equal(t, "preferred", config.UserVerification)
}

func TestConfig_ToWebAuthnConfig(t *testing.T) {
	config := Config{
		RPID:             "example.com",
		RPDisplayName:    "Example",
		RPOrigins:        []string{"https://example.com"},
		Timeout:          30 * time.Second,
		UserVerification: "required",
	}

	cfg := config.ToWebAuthnConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "example.com", cfg.RPID)
	assert.Equal(t, protocol.VerificationRequired, cfg.AuthenticatorSelection.UserVerification)
	assert.True(t, cfg.Timeouts.Login.Enforce)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Login.Timeout)
}
