package chat

import (
	"context"
	"time"
)

// MaxContentChars is the maximum message length in runes.
const MaxContentChars = 4000

// Chat is a two-party conversation, uniquely keyed by its unordered member
// pair. UserLo/UserHi hold the pair in normalized (ascending) order.
type Chat struct {
	ID        int64
	UserLo    int64
	UserHi    int64
	CreatedAt time.Time
}

// HasMember reports whether userID is one of the chat's two members.
func (c Chat) HasMember(userID int64) bool {
	return userID == c.UserLo || userID == c.UserHi
}

// Peer returns the other member of the chat relative to userID.
func (c Chat) Peer(userID int64) int64 {
	if userID == c.UserLo {
		return c.UserHi
	}
	return c.UserLo
}

// Message is one immutable entry in a chat's log.
// Token is the externally visible message id (ULID); ID is the storage key
// used as the ordering tie-break and the history cursor.
type Message struct {
	ID        int64
	Token     string
	ChatID    int64
	SenderID  int64
	Content   string
	CreatedAt time.Time
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	ChatID   int64
	SenderID int64
	Content  string
	Now      time.Time
}

// ListMessagesInput describes a history query.
// SinceID is an exclusive cursor: only messages after that id are returned.
type ListMessagesInput struct {
	ChatID  int64
	SinceID *int64
	Limit   int
}

// ListMessagesResult contains the retrieved history window.
type ListMessagesResult struct {
	Messages []Message
	HasMore  bool
}

// Store is the durable chat persistence boundary.
//
// Requirements:
//   - GetOrCreatePrivateChat is race-safe: concurrent calls for the same
//     unordered pair must converge on one chat row.
//   - ListMessages is ordered by (created_at, id) ascending and restartable.
type Store interface {
	GetOrCreatePrivateChat(ctx context.Context, userA, userB int64) (Chat, error)
	GetChat(ctx context.Context, chatID int64) (Chat, error)
	Members(ctx context.Context, chatID int64) ([]int64, error)
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)
	ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error)
	Close() error
}

// NormalizePair returns the unordered pair in ascending order.
func NormalizePair(a, b int64) (lo, hi int64) {
	if a <= b {
		return a, b
	}
	return b, a
}
