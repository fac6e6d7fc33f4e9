package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when a username/password pair does not verify.
	// It is deliberately indistinguishable between unknown-user and wrong-password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken is returned when an access or refresh token fails verification.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenRevoked is returned when a refresh token exists but has been revoked.
	ErrTokenRevoked = errors.New("auth: token revoked")

	// ErrRateLimited is returned when login attempts exceed the per-user window.
	ErrRateLimited = errors.New("auth: rate limited")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("auth: invalid config")
)
