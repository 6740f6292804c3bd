// Package util holds small identifier helpers shared across services.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 32-hex-char identifier, optionally prefixed
// ("mem_ab12...").
func NewID(prefix string) string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	if prefix == "" {
		return hex.EncodeToString(raw)
	}
	return prefix + "_" + hex.EncodeToString(raw)
}

// NewToken returns an opaque random token of n bytes, hex encoded. Used for
// refresh tokens, which are stored only as hashes.
func NewToken(n int) string {
	raw := make([]byte, n)
	_, _ = rand.Read(raw)
	return hex.EncodeToString(raw)
}
