// Package auth validates bearer API keys against configured SHA-256 hashes.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey = errors.New("missing Authorization header")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// APIKey is a configured client key. Only the hash is kept.
type APIKey struct {
	KeyHash     string
	Description string
}

// Authenticator validates API keys.
type Authenticator struct {
	keys map[string]APIKey // keyhash -> key
}

// NewAuthenticator creates an authenticator for keys. Hashes are matched
// case-insensitively.
func NewAuthenticator(keys []APIKey) *Authenticator {
	a := &Authenticator{
		keys: make(map[string]APIKey, len(keys)),
	}
	for _, key := range keys {
		key.KeyHash = strings.ToLower(key.KeyHash)
		a.keys[key.KeyHash] = key
	}
	return a
}

// Len returns the number of configured keys.
func (a *Authenticator) Len() int {
	return len(a.keys)
}

// ValidateAPIKey validates an API key and returns the matching entry.
func (a *Authenticator) ValidateAPIKey(apiKey string) (APIKey, error) {
	keyHash := HashAPIKey(apiKey)

	key, ok := a.keys[keyHash]
	if !ok {
		return APIKey{}, ErrInvalidAPIKey
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(key.KeyHash)) != 1 {
		return APIKey{}, ErrInvalidAPIKey
	}
	return key, nil
}

// ExtractAPIKey extracts the API key from the Authorization header
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAPIKey
	}

	// Support "Bearer <key>" format
	scheme, key, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(key) == "" {
		return "", errors.New("authorization must use the Bearer scheme")
	}
	return strings.TrimSpace(key), nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

// ValidHash reports whether s looks like a HashAPIKey result.
func ValidHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
