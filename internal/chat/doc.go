// Package chat owns durable chat state: two-party chats, their memberships,
// and the append-only message log. The realtime layer consumes this package;
// it never reaches into the database directly.
package chat
