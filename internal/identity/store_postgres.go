package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// Ownership model:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "webchat").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return errors.New("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
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
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

const publicIDAllocAttempts = 3

// CreateUser inserts a new user with a freshly allocated public id.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	username := NormalizeUsername(in.Username)
	if username == "" || in.PasswordHash == "" {
		return User{}, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	// Public id collisions are astronomically rare but cheap to retry.
	for attempt := 0; attempt < publicIDAllocAttempts; attempt++ {
		publicID, err := NewPublicID()
		if err != nil {
			return User{}, fmt.Errorf("%s: %w", op, err)
		}

		var u User
		err = s.pool.QueryRow(ctx,
			`INSERT INTO `+users+` (public_id, username, password_hash, created_at)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, public_id, username, bio, created_at`,
			publicID, username, in.PasswordHash, now,
		).Scan(&u.ID, &u.PublicID, &u.Username, &u.Bio, &u.CreatedAt)
		if err == nil {
			return u, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "public_id") {
				continue // regenerate and retry
			}
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return User{}, ConflictError{Op: op, Field: "public_id"}
}

// GetByID returns the user with the given surrogate key.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (User, error) {
	return s.getBy(ctx, "identity.GetByID", `id = $1`, id)
}

// GetByUsername returns the user with the given username.
func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.getBy(ctx, "identity.GetByUsername", `username = $1`, NormalizeUsername(username))
}

// GetByPublicID returns the user addressed by the public identifier.
func (s *PostgresStore) GetByPublicID(ctx context.Context, publicID string) (User, error) {
	publicID = strings.TrimSpace(publicID)
	if !IsValidPublicID(publicID) {
		return User{}, fmt.Errorf("identity.GetByPublicID: %w", ErrNotFound)
	}
	return s.getBy(ctx, "identity.GetByPublicID", `public_id = $1`, publicID)
}

// ListUsers returns all users ordered by signup.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	const op = "identity.ListUsers"

	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT id, public_id, username, bio, created_at FROM `+users+` ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.PublicID, &u.Username, &u.Bio, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// PasswordHashByUsername returns the stored credential hash for login checks.
func (s *PostgresStore) PasswordHashByUsername(ctx context.Context, username string) (int64, string, error) {
	const op = "identity.PasswordHashByUsername"

	users := pgIdent(s.schema, "users")

	var (
		id   int64
		hash string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, password_hash FROM `+users+` WHERE username = $1`,
		NormalizeUsername(username),
	).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return 0, "", fmt.Errorf("%s: %w", op, err)
	}
	return id, hash, nil
}

// UpdateProfile replaces the mutable profile fields.
func (s *PostgresStore) UpdateProfile(ctx context.Context, userID int64, username string, bio *string) (User, error) {
	const op = "identity.UpdateProfile"

	username = NormalizeUsername(username)
	if username == "" {
		return User{}, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	users := pgIdent(s.schema, "users")

	var u User
	err := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET username = $2, bio = $3
		  WHERE id = $1
		RETURNING id, public_id, username, bio, created_at`,
		userID, username, bio,
	).Scan(&u.ID, &u.PublicID, &u.Username, &u.Bio, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) getBy(ctx context.Context, op, where string, arg any) (User, error) {
	users := pgIdent(s.schema, "users")

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, public_id, username, bio, created_at FROM `+users+` WHERE `+where,
		arg,
	).Scan(&u.ID, &u.PublicID, &u.Username, &u.Bio, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
