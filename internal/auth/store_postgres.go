package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRefreshStore persists refresh tokens in PostgreSQL.
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresRefreshStore struct {
	pool   *pgxpool.Pool
	schema string
}

// RefreshStoreOption configures the store.
type RefreshStoreOption func(*PostgresRefreshStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithRefreshSchema sets the Postgres schema used by the store (default "webchat").
func WithRefreshSchema(schema string) RefreshStoreOption {
	return func(s *PostgresRefreshStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("auth: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return errors.New("auth: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresRefreshStore constructs a Postgres-backed RefreshStore.
func NewPostgresRefreshStore(pool *pgxpool.Pool, opts ...RefreshStoreOption) (*PostgresRefreshStore, error) {
	st := &PostgresRefreshStore{
		pool:   pool,
		schema: "webchat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("auth: nil pool")
	}
	return st, nil
}

// Save records a refresh token hash for a user.
func (s *PostgresRefreshStore) Save(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	table := pgx.Identifier{s.schema, "refresh_tokens"}.Sanitize()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+` (user_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, now())`,
		userID, tokenHash, expiresAt,
	)
	return err
}

// UserIDByHash resolves an unexpired, unrevoked refresh token hash to its user.
func (s *PostgresRefreshStore) UserIDByHash(ctx context.Context, tokenHash string, now time.Time) (int64, error) {
	table := pgx.Identifier{s.schema, "refresh_tokens"}.Sanitize()

	var (
		userID    int64
		expiresAt time.Time
		revokedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, expires_at, revoked_at FROM `+table+` WHERE token_hash = $1`,
		tokenHash,
	).Scan(&userID, &expiresAt, &revokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInvalidToken
	}
	if err != nil {
		return 0, err
	}

	if revokedAt != nil {
		return 0, ErrTokenRevoked
	}
	if !expiresAt.After(now) {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// RevokeAll revokes every refresh token for a user.
func (s *PostgresRefreshStore) RevokeAll(ctx context.Context, userID int64, now time.Time) error {
	table := pgx.Identifier{s.schema, "refresh_tokens"}.Sanitize()

	_, err := s.pool.Exec(ctx,
		`UPDATE `+table+` SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, now,
	)
	return err
}
