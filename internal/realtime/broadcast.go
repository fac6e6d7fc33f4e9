package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/DangeRika/Web-chat/contracts/realtime/v1"
	"github.com/DangeRika/Web-chat/internal/chat"
	"github.com/DangeRika/Web-chat/internal/ids"
)

// orderStripes is the number of per-chat ordering locks. Chats hash onto
// stripes; two chats sharing a stripe serialize against each other, which
// is harmless for correctness.
const orderStripes = 128

// Broadcaster persists accepted messages and fans them out to the chat's
// live connections.
//
// Ordering invariant: within one chat, the order in which connections
// observe message.new envelopes equals the persistence order. The stripe
// lock is held across persist and fan-out to guarantee it.
type Broadcaster struct {
	log      *slog.Logger
	store    chat.Store
	registry *Registry
	metrics  *Metrics

	order [orderStripes]sync.Mutex
}

// NewBroadcaster constructs a Broadcaster. metrics may be nil.
func NewBroadcaster(log *slog.Logger, store chat.Store, registry *Registry, metrics *Metrics) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{log: log, store: store, registry: registry, metrics: metrics}
}

// Deliver appends a message to the chat's durable log and enqueues the
// resulting message.new envelope to every live connection of the chat,
// the sender's own connections included.
//
// It returns the persisted message and the number of connections the
// envelope was enqueued to. When persistence fails, nothing is delivered
// and the store error is returned as-is (validation errors included).
func (b *Broadcaster) Deliver(ctx context.Context, chatID, senderID int64, senderPublic, content string, now time.Time) (chat.Message, int, error) {
	lock := &b.order[uint64(chatID)%orderStripes]
	lock.Lock()

	msg, err := b.store.AppendMessage(ctx, chat.AppendMessageInput{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		Now:      now,
	})
	if err != nil {
		lock.Unlock()
		return chat.Message{}, 0, fmt.Errorf("append message: %w", err)
	}
	if b.metrics != nil {
		b.metrics.MessagesPersisted.Inc()
	}

	env, err := NewServerEnvelope(v1.TypeMessageNew, v1.MessageNewPayload{
		MessageID:    msg.Token,
		ChatID:       msg.ChatID,
		SenderID:     msg.SenderID,
		SenderPublic: senderPublic,
		Content:      msg.Content,
		CreatedAt:    msg.CreatedAt,
	}, now)
	if err != nil {
		lock.Unlock()
		return chat.Message{}, 0, fmt.Errorf("encode envelope: %w", err)
	}

	var failed []*Conn
	delivered := 0
	for _, c := range b.registry.Snapshot(chatID) {
		if c.TryEnqueue(env) {
			delivered++
		} else {
			failed = append(failed, c)
		}
	}
	lock.Unlock()

	if b.metrics != nil {
		b.metrics.MessagesDelivered.Add(float64(delivered))
		b.metrics.SendFailures.Add(float64(len(failed)))
	}

	// Evict outside the ordering lock: a stuck peer must not stall the chat.
	for _, c := range failed {
		b.registry.Unregister(c.ChatID, c.SessionID)
		c.Close()
		if b.metrics != nil {
			b.metrics.SlowEvictions.Inc()
		}
		b.log.Warn("broadcast.evict.slow",
			"chat_id", c.ChatID,
			"session_id", c.SessionID,
			"user_id", c.UserID,
		)
	}

	b.log.Debug("broadcast.deliver",
		"chat_id", chatID,
		"message_id", msg.Token,
		"delivered", delivered,
		"failed", len(failed),
	)
	return msg, delivered, nil
}

// NewServerEnvelope wraps a payload into a versioned envelope with a fresh id.
func NewServerEnvelope(typ string, payload any, now time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ids.NewRandomHex(10),
		TS:      now.UTC(),
		Payload: raw,
	}, nil
}
