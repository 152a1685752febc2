package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// Key format: base64url (no padding) of DefaultKeyBytes random bytes.
// Example: 3q2-7wAAAAC8x9Yl1nXc3mZ0Qk2bXb4P0h1s7r9Wc6o
const (
	DefaultKeyBytes = 32
	MinKeyBytes     = 16
	KeyPrefixLen    = 8 // Visible prefix length, shown in listings
)

// ErrInvalidKeyFormat indicates the key format is invalid.
var ErrInvalidKeyFormat = errors.New("invalid API key format")

// GeneratedKey contains the parts of a newly generated API key.
type GeneratedKey struct {
	Plaintext string // Full key (show once only)
	Hash      string // SHA-256 digest for storage and lookup
	Prefix    string // 8-char visible prefix
}

// GenerateAPIKey creates a new API key from byteLen random bytes.
// byteLen below MinKeyBytes falls back to DefaultKeyBytes.
func GenerateAPIKey(byteLen int) (*GeneratedKey, error) {
	if byteLen < MinKeyBytes {
		byteLen = DefaultKeyBytes
	}

	raw := make([]byte, byteLen)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      HashAPIKey(plaintext),
		Prefix:    plaintext[:KeyPrefixLen],
	}, nil
}

// HashAPIKey returns the base64url SHA-256 digest used to store and look up a key.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateKeyFormat checks that key could have been produced by
// GenerateAPIKey(byteLen). Run it before any store lookup.
func ValidateKeyFormat(key string, byteLen int) bool {
	if byteLen < MinKeyBytes {
		byteLen = DefaultKeyBytes
	}
	if len(key) != base64.RawURLEncoding.EncodedLen(byteLen) {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
