package chat

import "errors"

var (
	// ErrNotFound is returned when a chat does not exist.
	ErrNotFound = errors.New("chat: not found")

	// ErrSelfChat is returned when both members of a private chat would be the same user.
	ErrSelfChat = errors.New("chat: cannot chat with yourself")

	// ErrContentEmpty is returned when a message has no content after trimming.
	ErrContentEmpty = errors.New("chat: empty content")

	// ErrContentTooLong is returned when a message exceeds MaxContentChars runes.
	ErrContentTooLong = errors.New("chat: content too long")

	// ErrInvalidInput is returned for structurally invalid requests.
	ErrInvalidInput = errors.New("chat: invalid input")
)
