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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jeremyhahn/go-passkey-vault/pkg/kdf"
	"github.com/jeremyhahn/go-passkey-vault/pkg/metrics"
)

// sessionKeyEntry holds a derived key for the lifetime of its bearer token.
type sessionKeyEntry struct {
	key       *kdf.Key
	userID    []byte
	expiresAt time.Time
}

// sessionKeyCache holds derived vault keys in memory, keyed by a digest of
// the bearer token, for session key-lifetime mode. Keys never touch disk
// and are zeroed on eviction. The tradeoff against ephemeral mode: blob
// requests skip re-derivation, at the cost of keeping key material resident
// for up to the token TTL.
type sessionKeyCache struct {
	mu      sync.Mutex
	entries map[string]*sessionKeyEntry
}

func newSessionKeyCache() *sessionKeyCache {
	return &sessionKeyCache{
		entries: make(map[string]*sessionKeyEntry),
	}
}

// tokenDigest avoids holding raw bearer tokens in memory as map keys.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Put caches a derived key until expiry.
func (c *sessionKeyCache) Put(token string, userID []byte, key *kdf.Key, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[tokenDigest(token)] = &sessionKeyEntry{
		key:       key,
		userID:    userID,
		expiresAt: expiresAt,
	}
	metrics.SetSessionKeysCached(len(c.entries))
}

// Get returns the cached key and user for a bearer token, or false when
// the token is unknown or expired. Expired entries are left for the
// janitor: a request that fetched the key just before expiry may still
// be decrypting with it, so reads never zero material.
func (c *sessionKeyCache) Get(token string) (*kdf.Key, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tokenDigest(token)]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil, false
	}
	return entry.key, entry.userID, true
}

// Cleanup evicts expired entries and returns how many were removed.
func (c *sessionKeyCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for digest, entry := range c.entries {
		if now.After(entry.expiresAt) {
			entry.key.Zero()
			delete(c.entries, digest)
			removed++
		}
	}
	metrics.SetSessionKeysCached(len(c.entries))
	return removed
}

// Count returns the number of cached keys, including expired ones not yet
// evicted.
func (c *sessionKeyCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// janitor evicts expired entries periodically until the context is done.
func (c *sessionKeyCache) janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}
