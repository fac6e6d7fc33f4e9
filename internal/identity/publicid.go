package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PublicIDLen is the length of the public identifier in hex characters.
const PublicIDLen = 8

// NewPublicID returns a cryptographically random public identifier
// (8 lowercase hex chars). Uniqueness is enforced by the store.
func NewPublicID() (string, error) {
	b := make([]byte, PublicIDLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("public id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IsValidPublicID reports whether s has the shape of a public identifier.
func IsValidPublicID(s string) bool {
	if len(s) != PublicIDLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
