// Package auth issues and validates credentials: short-lived PASETO access
// tokens plus opaque refresh tokens whose hashes are stored server-side.
//
// The realtime layer consumes only Service.Resolve, which turns an opaque
// bearer credential into a user identity or fails.
package auth
