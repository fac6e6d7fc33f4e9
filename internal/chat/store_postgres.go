package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DangeRika/Web-chat/internal/ids"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Pair uniqueness is enforced by a unique index on (user_lo, user_hi);
//   get-or-create races resolve via ON CONFLICT, never in application code.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by this store (default: "webchat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "webchat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// GetOrCreatePrivateChat returns the unique chat for the unordered user pair,
// creating it (and its two membership rows) atomically when absent.
func (s *PostgresStore) GetOrCreatePrivateChat(ctx context.Context, userA, userB int64) (Chat, error) {
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

	chats := pgIdent(s.schema, "chats")
	members := pgIdent(s.schema, "chat_members")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Chat{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var c Chat

	// The unique index on (user_lo, user_hi) is the real uniqueness guarantee;
	// ON CONFLICT turns the losing side of a race into a plain read.
	err = tx.QueryRow(ctx,
		`INSERT INTO `+chats+` (user_lo, user_hi, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_lo, user_hi) DO NOTHING
		 RETURNING id, user_lo, user_hi, created_at`,
		lo, hi,
	).Scan(&c.ID, &c.UserLo, &c.UserHi, &c.CreatedAt)

	switch {
	case err == nil:
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+members+` (chat_id, user_id)
			 VALUES ($1, $2), ($1, $3)
			 ON CONFLICT DO NOTHING`,
			c.ID, lo, hi,
		); err != nil {
			return Chat{}, fmt.Errorf("chat members: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		// Lost the race: the row exists, read it.
		err = tx.QueryRow(ctx,
			`SELECT id, user_lo, user_hi, created_at FROM `+chats+`
			  WHERE user_lo = $1 AND user_hi = $2`,
			lo, hi,
		).Scan(&c.ID, &c.UserLo, &c.UserHi, &c.CreatedAt)
		if err != nil {
			return Chat{}, fmt.Errorf("chat lookup after conflict: %w", err)
		}
	default:
		return Chat{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Chat{}, err
	}
	return c, nil
}

// GetChat returns the chat with the given surrogate key.
func (s *PostgresStore) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	chats := pgIdent(s.schema, "chats")

	var c Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_lo, user_hi, created_at FROM `+chats+` WHERE id = $1`,
		chatID,
	).Scan(&c.ID, &c.UserLo, &c.UserHi, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}
	return c, nil
}

// Members returns the user ids holding a membership row for the chat.
func (s *PostgresStore) Members(ctx context.Context, chatID int64) ([]int64, error) {
	members := pgIdent(s.schema, "chat_members")

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+members+` WHERE chat_id = $1 ORDER BY user_id`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// IsMember checks membership via the membership table, not the pair columns.
func (s *PostgresStore) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	members := pgIdent(s.schema, "chat_members")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AppendMessage persists a message with a server-assigned id and timestamp.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
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

	messages := pgIdent(s.schema, "messages")

	var m Message
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+messages+` (token, chat_id, sender_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, token, chat_id, sender_id, content, created_at`,
		token, in.ChatID, in.SenderID, content, now,
	).Scan(&m.ID, &m.Token, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns messages ordered by (created_at, id) ascending,
// with optional paging via SinceID.
func (s *PostgresStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	if in.ChatID <= 0 {
		return ListMessagesResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	messages := pgIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)
	if in.SinceID == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT id, token, chat_id, sender_id, content, created_at
			   FROM `+messages+`
			  WHERE chat_id = $1
			  ORDER BY created_at ASC, id ASC
			  LIMIT $2`,
			in.ChatID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, token, chat_id, sender_id, content, created_at
			   FROM `+messages+`
			  WHERE chat_id = $1 AND id > $2
			  ORDER BY created_at ASC, id ASC
			  LIMIT $3`,
			in.ChatID, *in.SinceID, fetch,
		)
	}
	if err != nil {
		return ListMessagesResult{}, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, fetch)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Token, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return ListMessagesResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return ListMessagesResult{Messages: msgs, HasMore: hasMore}, nil
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrContentEmpty
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return "", ErrContentTooLong
	}
	return content, nil
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
