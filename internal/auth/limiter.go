package auth

import (
	"sync"
	"time"
)

// LoginLimiter is a keyed sliding-window limiter for login attempts.
// Keys are normalized usernames; state is in-process (single-node scope).
type LoginLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
}

// NewLoginLimiter constructs a LoginLimiter with safe defaults when inputs are invalid.
func NewLoginLimiter(limit int, window time.Duration) *LoginLimiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &LoginLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an attempt for key at time "now" should be permitted.
func (l *LoginLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)

	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}

	l.events[key] = append(kept, now)
	return true
}

// Forget clears attempt history for key (e.g., after a successful login).
func (l *LoginLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.events, key)
	l.mu.Unlock()
}
