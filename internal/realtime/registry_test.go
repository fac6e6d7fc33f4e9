package realtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConn(userID, chatID int64) *Conn {
	return NewConn(userID, "deadbeef", chatID, 8, time.Now().UTC())
}

func TestRegistry_RegisterVisibility(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())

	a := newTestConn(1, 42)
	b := newTestConn(2, 42)
	other := newTestConn(3, 99)

	r.Register(a)
	r.Register(b)
	r.Register(other)

	snap := r.Snapshot(42)
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	for _, c := range snap {
		if c.ChatID != 42 {
			t.Fatalf("snapshot leaked conn from chat %d", c.ChatID)
		}
	}

	if got := r.ActiveChats(); got != 2 {
		t.Fatalf("ActiveChats = %d, want 2", got)
	}
	if got := r.ActiveConns(); got != 3 {
		t.Fatalf("ActiveConns = %d, want 3", got)
	}
}

func TestRegistry_SameUserMultipleSessions(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())

	s1 := newTestConn(7, 1)
	s2 := newTestConn(7, 1)
	r.Register(s1)
	r.Register(s2)

	if got := len(r.Snapshot(1)); got != 2 {
		t.Fatalf("two sessions of one user: snapshot = %d, want 2", got)
	}

	r.Unregister(1, s1.SessionID)
	if got := len(r.Snapshot(1)); got != 1 {
		t.Fatalf("after one leave: snapshot = %d, want 1", got)
	}
}

func TestRegistry_LastLeaveRemovesKey(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())

	c := newTestConn(1, 5)
	r.Register(c)

	if got := r.Unregister(5, c.SessionID); got != c {
		t.Fatalf("unregister returned %v, want the registered conn", got)
	}
	if got := r.ActiveChats(); got != 0 {
		t.Fatalf("ActiveChats after last leave = %d, want 0", got)
	}
	if snap := r.Snapshot(5); snap != nil {
		t.Fatalf("snapshot of emptied chat = %v, want nil", snap)
	}

	// Idempotent.
	if got := r.Unregister(5, c.SessionID); got != nil {
		t.Fatalf("second unregister returned %v, want nil", got)
	}
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())

	const (
		chats   = 8
		workers = 16
		rounds  = 200
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				chatID := int64(i % chats)
				c := newTestConn(int64(w), chatID)
				r.Register(c)
				r.Snapshot(chatID)
				r.Unregister(chatID, c.SessionID)
			}
		}(w)
	}
	wg.Wait()

	if got := r.ActiveConns(); got != 0 {
		t.Fatalf("ActiveConns after churn = %d, want 0", got)
	}
	if got := r.ActiveChats(); got != 0 {
		t.Fatalf("ActiveChats after churn = %d, want 0", got)
	}
}

func TestRateLimiter_Window(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rl := NewRateLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d unexpectedly limited", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("fourth event inside window should be limited")
	}
	if !rl.Allow(now.Add(2 * time.Second)) {
		t.Fatalf("event after window should pass")
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestConn(1, 1)
	c.Close()
	c.Close()

	select {
	case <-c.Done():
	default:
		t.Fatalf("Done not closed after Close")
	}

	if c.TryEnqueue(testEnvelope(t)) {
		t.Fatalf("enqueue on closed conn should fail")
	}
}
