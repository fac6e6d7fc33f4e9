package identity

import (
	"context"
	"time"
)

// User is the canonical security principal.
//
// ID is the internal surrogate key and never leaves the process boundary in
// addressable form; PublicID is the short random token clients use to refer
// to a user.
type User struct {
	ID       int64
	PublicID string
	Username string
	Bio      *string

	CreatedAt time.Time
}

// CreateUserInput describes a registration request.
// PasswordHash must already be an encoded Argon2id hash.
type CreateUserInput struct {
	Username     string
	PasswordHash string
	Now          time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	// CreateUser inserts a new user with a freshly allocated public id.
	// Fails with ErrConflict when the username is taken.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetByID returns the user with the given surrogate key or ErrNotFound.
	GetByID(ctx context.Context, id int64) (User, error)

	// GetByUsername returns the user with the given (normalized) username or ErrNotFound.
	GetByUsername(ctx context.Context, username string) (User, error)

	// GetByPublicID returns the user addressed by the public identifier or ErrNotFound.
	GetByPublicID(ctx context.Context, publicID string) (User, error)

	// ListUsers returns all users ordered by signup (ascending id).
	ListUsers(ctx context.Context) ([]User, error)

	// PasswordHashByUsername returns the stored credential hash for login checks.
	PasswordHashByUsername(ctx context.Context, username string) (userID int64, hash string, err error)

	// UpdateProfile replaces the mutable profile fields (display name, bio).
	UpdateProfile(ctx context.Context, userID int64, username string, bio *string) (User, error)
}
