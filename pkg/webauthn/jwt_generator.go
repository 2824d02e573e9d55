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
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultJWTGenerator generates HMAC-signed JWT tokens for authenticated
// WebAuthn users. The token carries the user handle as its subject so the
// vault layer can scope blob operations without another user lookup.
type DefaultJWTGenerator struct {
	// secret is the HMAC signing key
	secret []byte
	// issuer is the JWT issuer claim
	issuer string
	// audience is the JWT audience claim
	audience []string
	// expiresIn is how long tokens are valid
	expiresIn time.Duration
}

// JWTGeneratorConfig contains configuration for the JWT generator.
type JWTGeneratorConfig struct {
	// Secret is the HMAC signing key (required, at least 32 bytes)
	Secret []byte
	// Issuer is the JWT issuer claim (default: "go-passkey-vault")
	Issuer string
	// Audience is the JWT audience claim (default: ["go-passkey-vault"])
	Audience []string
	// ExpiresIn is how long tokens are valid (default: 1 hour)
	ExpiresIn time.Duration
}

// NewDefaultJWTGenerator creates a new JWT generator with the given configuration.
func NewDefaultJWTGenerator(config *JWTGeneratorConfig) (*DefaultJWTGenerator, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(config.Secret) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes")
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-passkey-vault"
	}

	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-passkey-vault"}
	}

	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	return &DefaultJWTGenerator{
		secret:    config.Secret,
		issuer:    issuer,
		audience:  audience,
		expiresIn: expiresIn,
	}, nil
}

// GenerateToken creates a JWT for the authenticated user.
func (g *DefaultJWTGenerator) GenerateToken(ctx context.Context, user User) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss": g.issuer,
		"aud": g.audience,
		"sub": base64.RawURLEncoding.EncodeToString(user.WebAuthnID()),
		"iat": now.Unix(),
		"exp": now.Add(g.expiresIn).Unix(),
		"nbf": now.Unix(),
		// Custom claims
		"name":     user.WebAuthnDisplayName(),
		"username": user.WebAuthnName(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// VerifyToken verifies a JWT and returns the claims.
func (g *DefaultJWTGenerator) VerifyToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return g.secret, nil
		},
		jwt.WithIssuer(g.issuer),
		jwt.WithAudience(g.audience[0]),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	return claims, nil
}

// Subject extracts the user handle from verified claims.
func (g *DefaultJWTGenerator) Subject(claims jwt.MapClaims) ([]byte, error) {
	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, fmt.Errorf("missing subject claim")
	}
	return base64.RawURLEncoding.DecodeString(sub)
}

// Issuer returns the configured issuer.
func (g *DefaultJWTGenerator) Issuer() string {
	return g.issuer
}

// ExpiresIn returns the token expiration duration.
func (g *DefaultJWTGenerator) ExpiresIn() time.Duration {
	return g.expiresIn
}
