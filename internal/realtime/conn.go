package realtime

import (
	"sync"
	"time"

	v1 "github.com/DangeRika/Web-chat/contracts/realtime/v1"
	"github.com/DangeRika/Web-chat/internal/ids"
)

// Conn is one live websocket session bound to exactly one chat.
//
// Ownership rules:
//   - The registry and broadcaster only ever write into Send via a
//     non-blocking select guarded by Done; they never close Send.
//   - Close is the only way to retire a Conn and is safe to call from
//     any goroutine, any number of times.
type Conn struct {
	// SessionID uniquely identifies this connection (not the user; one user
	// may hold several concurrent sessions on the same chat).
	SessionID string

	UserID       int64
	UserPublicID string
	ChatID       int64

	// Send carries server-to-client envelopes. Bounded; a full buffer marks
	// the connection as too slow and it gets evicted instead of blocking
	// the broadcast path.
	Send chan v1.Envelope

	JoinedAt time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn constructs a Conn with a fresh session id.
func NewConn(userID int64, userPublicID string, chatID int64, sendBuf int, now time.Time) *Conn {
	if sendBuf <= 0 {
		sendBuf = 32
	}
	return &Conn{
		SessionID:    ids.NewRandomHex(10),
		UserID:       userID,
		UserPublicID: userPublicID,
		ChatID:       chatID,
		Send:         make(chan v1.Envelope, sendBuf),
		JoinedAt:     now,
		done:         make(chan struct{}),
	}
}

// Done is closed when the connection is retired.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close retires the connection. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// TryEnqueue attempts a non-blocking delivery to the connection.
// It reports false when the connection is closed or its buffer is full.
func (c *Conn) TryEnqueue(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
