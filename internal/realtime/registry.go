package realtime

import (
	"log/slog"
	"sync"
)

// Registry tracks live connections grouped by chat.
//
// Contention is per chat: snapshots and membership changes for one chat do
// not serialize against other chats. A chat key exists in the registry if
// and only if it has at least one live connection; the last unregister
// removes the key entirely, so lookups never observe stale empty sets.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	chats map[int64]*chatEntry
}

type chatEntry struct {
	mu    sync.RWMutex
	gone  bool // set when the entry has been removed from the registry
	conns map[string]*Conn
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		chats: make(map[int64]*chatEntry),
	}
}

// Register adds a connection under its chat key, creating the key when the
// connection is the chat's first.
func (r *Registry) Register(c *Conn) {
	for {
		r.mu.RLock()
		e := r.chats[c.ChatID]
		r.mu.RUnlock()

		if e == nil {
			r.mu.Lock()
			e = r.chats[c.ChatID]
			if e == nil {
				e = &chatEntry{conns: make(map[string]*Conn)}
				r.chats[c.ChatID] = e
			}
			r.mu.Unlock()
		}

		e.mu.Lock()
		if e.gone {
			// Entry was concurrently emptied and removed; take a fresh one.
			e.mu.Unlock()
			continue
		}
		e.conns[c.SessionID] = c
		n := len(e.conns)
		e.mu.Unlock()

		r.log.Debug("registry.register",
			"chat_id", c.ChatID,
			"session_id", c.SessionID,
			"user_id", c.UserID,
			"chat_conns", n,
		)
		return
	}
}

// Unregister removes a connection by session id and returns it, or nil when
// the session was not registered. When the chat's last connection leaves,
// the chat key is deleted. Idempotent.
func (r *Registry) Unregister(chatID int64, sessionID string) *Conn {
	r.mu.RLock()
	e := r.chats[chatID]
	r.mu.RUnlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	c, ok := e.conns[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.conns, sessionID)
	empty := len(e.conns) == 0
	if empty {
		e.gone = true
	}
	e.mu.Unlock()

	if empty {
		r.mu.Lock()
		if r.chats[chatID] == e {
			delete(r.chats, chatID)
		}
		r.mu.Unlock()
	}

	r.log.Debug("registry.unregister",
		"chat_id", chatID,
		"session_id", sessionID,
		"chat_empty", empty,
	)
	return c
}

// Snapshot returns the chat's live connections at some point during the
// call. Concurrent joins and leaves yield either the pre- or post-change
// set, never a torn one.
func (r *Registry) Snapshot(chatID int64) []*Conn {
	r.mu.RLock()
	e := r.chats[chatID]
	r.mu.RUnlock()
	if e == nil {
		return nil
	}

	e.mu.RLock()
	out := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	e.mu.RUnlock()
	return out
}

// ActiveChats returns the number of chats with at least one live connection.
func (r *Registry) ActiveChats() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chats)
}

// ActiveConns returns the total number of live connections.
func (r *Registry) ActiveConns() int {
	r.mu.RLock()
	entries := make([]*chatEntry, 0, len(r.chats))
	for _, e := range r.chats {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	total := 0
	for _, e := range entries {
		e.mu.RLock()
		total += len(e.conns)
		e.mu.RUnlock()
	}
	return total
}
