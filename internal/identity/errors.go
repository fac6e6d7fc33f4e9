package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("identity: user not found")

	// ErrConflict is returned on uniqueness violations (username, public id).
	ErrConflict = errors.New("identity: conflict")

	// ErrInvalidInput is returned for structurally invalid requests.
	ErrInvalidInput = errors.New("identity: invalid input")
)

// ConflictError reports a uniqueness conflict for a specific logical field.
// Field is a stable logical name: "username", "public_id".
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
