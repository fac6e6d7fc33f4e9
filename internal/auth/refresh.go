package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// RefreshStore persists refresh-token state.
// Only SHA-256 hashes are stored; the plain token never touches disk.
type RefreshStore interface {
	// Save records a refresh token hash for a user.
	Save(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error

	// UserIDByHash resolves an unexpired, unrevoked refresh token hash to its
	// user. Fails with ErrInvalidToken (unknown) or ErrTokenRevoked.
	UserIDByHash(ctx context.Context, tokenHash string, now time.Time) (int64, error)

	// RevokeAll revokes every refresh token for a user (logout everywhere).
	RevokeAll(ctx context.Context, userID int64, now time.Time) error
}

func newOpaqueRefreshToken(nBytes int) (plain string, hashHex string, err error) {
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	// URL-safe, no padding.
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashRefreshToken(plain), nil
}

func hashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
