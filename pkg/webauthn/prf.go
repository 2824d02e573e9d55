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

	"github.com/go-webauthn/webauthn/protocol"
)

// ExtensionPRF is the WebAuthn PRF extension identifier.
const ExtensionPRF = "prf"

// PRFSaltSize is the length of the per-user PRF evaluation salt.
const PRFSaltSize = 32

// registrationExtensions requests that the PRF capability be enabled for
// the new credential. Registration only enables PRF; no evaluation input
// is supplied and no usable output is produced at this stage.
func registrationExtensions() protocol.AuthenticationExtensions {
	return protocol.AuthenticationExtensions{
		ExtensionPRF: map[string]interface{}{},
	}
}

// assertionExtensions requests PRF evaluation over the user's fixed salt.
// The same salt always yields the same PRF output for a given credential.
func assertionExtensions(salt []byte) protocol.AuthenticationExtensions {
	return protocol.AuthenticationExtensions{
		ExtensionPRF: map[string]interface{}{
			"eval": map[string]interface{}{
				"first": base64.RawURLEncoding.EncodeToString(salt),
			},
		},
	}
}

// PRFEnabled reports whether the client extension outputs of a registration
// response indicate the credential supports PRF evaluation.
func PRFEnabled(outputs protocol.AuthenticationExtensionsClientOutputs) bool {
	prf, ok := outputs[ExtensionPRF].(map[string]interface{})
	if !ok {
		return false
	}
	enabled, ok := prf["enabled"].(bool)
	return ok && enabled
}

// PRFOutputFromResults extracts the first PRF evaluation result from the
// client extension outputs of an assertion response. The second return
// value is false when the authenticator did not evaluate the PRF - a
// capability gap, not a failure.
func PRFOutputFromResults(outputs protocol.AuthenticationExtensionsClientOutputs) ([]byte, bool) {
	prf, ok := outputs[ExtensionPRF].(map[string]interface{})
	if !ok {
		return nil, false
	}
	results, ok := prf["results"].(map[string]interface{})
	if !ok {
		return nil, false
	}

	switch first := results["first"].(type) {
	case []byte:
		if len(first) == 0 {
			return nil, false
		}
		out := make([]byte, len(first))
		copy(out, first)
		return out, true
	case string:
		decoded, err := decodeBase64(first)
		if err != nil || len(decoded) == 0 {
			return nil, false
		}
		return decoded, true
	default:
		return nil, false
	}
}

// decodeBase64 decodes the encodings clients are known to emit for
// extension byte strings.
func decodeBase64(s string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.URLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
