package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeMessageSend requests sending a new message into the connection's chat (client -> server).
	TypeMessageSend = "message.send"
	// TypeMessageNew broadcasts an accepted message (server -> chat members, sender included).
	TypeMessageNew = "message.new"

	// TypeHistoryFetch requests a window of chat history (client -> server).
	TypeHistoryFetch = "history.fetch"
	// TypeHistoryChunk returns a window of chat history (server -> client).
	TypeHistoryChunk = "history.chunk"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
//
// The type set is closed on purpose: new variants (typing indicators, receipts)
// extend this enum without changing the envelope shape.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeMessageSend,
		TypeMessageNew,
		TypeHistoryFetch,
		TypeHistoryChunk,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// MessageSendPayload requests sending a message into the connection's chat.
type MessageSendPayload struct {
	Content string `json:"content"`
}

// MessageNewPayload is broadcast when a new message is accepted.
type MessageNewPayload struct {
	MessageID    string    `json:"message_id"`
	ChatID       int64     `json:"chat_id"`
	SenderID     int64     `json:"sender_id"`
	SenderPublic string    `json:"sender_public_id"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryFetchPayload requests a history window for the connection's chat.
type HistoryFetchPayload struct {
	SinceID *int64 `json:"since_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// HistoryChunkPayload returns messages for a history fetch request.
type HistoryChunkPayload struct {
	ChatID   int64               `json:"chat_id"`
	Messages []MessageNewPayload `json:"messages"`
	HasMore  bool                `json:"has_more"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
