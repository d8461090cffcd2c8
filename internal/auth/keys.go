// Package auth verifies the shared secret guarding the controller's internal endpoints.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns the hex SHA-256 digest of key, ignoring surrounding whitespace.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Matches reports whether token hashes to hashedKey, in constant time.
func Matches(token, hashedKey string) bool {
	return subtle.ConstantTimeCompare([]byte(HashKey(token)), []byte(hashedKey)) == 1
}
