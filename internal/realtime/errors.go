package realtime

import "errors"

// Admission errors. Each maps to a distinct close reason before any
// connection state is created.
var (
	// ErrUnauthenticated is returned when the credential is missing, malformed,
	// or does not resolve to a user.
	ErrUnauthenticated = errors.New("realtime: unauthenticated")

	// ErrForbidden is returned when the authenticated user is not a member of
	// the target chat.
	ErrForbidden = errors.New("realtime: forbidden")

	// ErrNotFound is returned when the target chat or peer does not exist.
	ErrNotFound = errors.New("realtime: not found")
)
