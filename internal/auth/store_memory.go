package auth

import (
	"context"
	"sync"
	"time"
)

// InMemoryRefreshStore is a dev/test fallback when the DB is not configured.
type InMemoryRefreshStore struct {
	mu   sync.Mutex
	rows map[string]*memRefreshRow // token_hash -> row
}

type memRefreshRow struct {
	userID    int64
	expiresAt time.Time
	revokedAt *time.Time
}

// NewInMemoryRefreshStore constructs an in-memory RefreshStore implementation.
func NewInMemoryRefreshStore() *InMemoryRefreshStore {
	return &InMemoryRefreshStore{rows: make(map[string]*memRefreshRow)}
}

// Save records a refresh token hash for a user.
func (s *InMemoryRefreshStore) Save(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[tokenHash] = &memRefreshRow{userID: userID, expiresAt: expiresAt}
	return nil
}

// UserIDByHash resolves an unexpired, unrevoked refresh token hash to its user.
func (s *InMemoryRefreshStore) UserIDByHash(ctx context.Context, tokenHash string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[tokenHash]
	if !ok {
		return 0, ErrInvalidToken
	}
	if row.revokedAt != nil {
		return 0, ErrTokenRevoked
	}
	if !row.expiresAt.After(now) {
		return 0, ErrInvalidToken
	}
	return row.userID, nil
}

// RevokeAll revokes every refresh token for a user.
func (s *InMemoryRefreshStore) RevokeAll(ctx context.Context, userID int64, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.userID == userID && row.revokedAt == nil {
			t := now
			row.revokedAt = &t
		}
	}
	return nil
}
