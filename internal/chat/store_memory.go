package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DangeRika/Web-chat/internal/ids"
)

// InMemoryStore is a dev/test fallback when the DB is not configured.
// It mirrors the PostgresStore contract, including pair uniqueness under
// concurrent get-or-create and (created_at, id) history ordering.
type InMemoryStore struct {
	mu sync.Mutex

	nextChatID int64
	nextMsgID  int64

	chatsByID     map[int64]Chat
	chatsByPair   map[[2]int64]int64
	membersByChat map[int64][]int64
	msgsByChat    map[int64][]Message
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chatsByID:     make(map[int64]Chat),
		chatsByPair:   make(map[[2]int64]int64),
		membersByChat: make(map[int64][]int64),
		msgsByChat:    make(map[int64][]Message),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// GetOrCreatePrivateChat returns the unique chat for the unordered user pair.
func (s *InMemoryStore) GetOrCreatePrivateChat(ctx context.Context, userA, userB int64) (Chat, error) {
	if userA <= 0 || userB <= 0 {
		return Chat{}, ErrInvalidInput
	}
	if userA == userB {
		return Chat{}, ErrSelfChat
	}
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}

	lo, hi := NormalizePair(userA, userB)
	key := [2]int64{lo, hi}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.chatsByPair[key]; ok {
		return s.chatsByID[id], nil
	}

	s.nextChatID++
	c := Chat{
		ID:        s.nextChatID,
		UserLo:    lo,
		UserHi:    hi,
		CreatedAt: time.Now().UTC(),
	}
	s.chatsByID[c.ID] = c
	s.chatsByPair[key] = c.ID
	s.membersByChat[c.ID] = []int64{lo, hi}
	return c, nil
}

// GetChat returns the chat with the given surrogate key.
func (s *InMemoryStore) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chatsByID[chatID]
	if !ok {
		return Chat{}, ErrNotFound
	}
	return c, nil
}

// Members returns the chat's member ids from its membership records.
// Membership is stored as rows per chat, not derived from the pair
// columns, matching the relational schema.
func (s *InMemoryStore) Members(ctx context.Context, chatID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.membersByChat[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]int64(nil), rows...), nil
}

// IsMember reports whether userID has a membership record for the chat.
// An unknown chat yields false without error.
func (s *InMemoryStore) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.membersByChat[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// AppendMessage persists a message with a server-assigned id and timestamp.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	content, err := validateContent(in.Content)
	if err != nil {
		return Message{}, err
	}
	if in.ChatID <= 0 || in.SenderID <= 0 {
		return Message{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	token, err := ids.NewULID(now)
	if err != nil {
		return Message{}, fmt.Errorf("message token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chatsByID[in.ChatID]; !ok {
		return Message{}, ErrNotFound
	}

	s.nextMsgID++
	m := Message{
		ID:        s.nextMsgID,
		Token:     token,
		ChatID:    in.ChatID,
		SenderID:  in.SenderID,
		Content:   content,
		CreatedAt: now,
	}
	s.msgsByChat[in.ChatID] = append(s.msgsByChat[in.ChatID], m)
	return m, nil
}

// ListMessages returns messages ordered by (created_at, id) ascending.
func (s *InMemoryStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	if in.ChatID <= 0 {
		return ListMessagesResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	s.mu.Lock()
	snap := append([]Message(nil), s.msgsByChat[in.ChatID]...)
	s.mu.Unlock()

	if len(snap) == 0 {
		return ListMessagesResult{}, nil
	}

	// Ensure ordering defensively.
	sort.Slice(snap, func(i, j int) bool {
		if !snap[i].CreatedAt.Equal(snap[j].CreatedAt) {
			return snap[i].CreatedAt.Before(snap[j].CreatedAt)
		}
		return snap[i].ID < snap[j].ID
	})

	start := 0
	if in.SinceID != nil {
		since := *in.SinceID
		start = sort.Search(len(snap), func(i int) bool { return snap[i].ID > since })
		if start >= len(snap) {
			return ListMessagesResult{}, nil
		}
	}

	end := start + fetch
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return ListMessagesResult{Messages: out, HasMore: hasMore}, nil
}
