package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DangeRika/Web-chat/internal/chat"
	"github.com/DangeRika/Web-chat/internal/identity"
)

// IdentityResolver turns a bearer credential into a user.
// Implemented by the auth service.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string, now time.Time) (identity.User, error)
}

// Target names the chat a connection wants to join: either an existing chat
// by id, or a peer by public id (the chat is then found or created).
// Exactly one field must be set.
type Target struct {
	ChatID       int64
	PeerPublicID string
}

// Gate performs the full admission sequence for a connection attempt.
// All checks run before any websocket or registry state is created.
type Gate struct {
	log      *slog.Logger
	resolver IdentityResolver
	users    identity.Store
	chats    chat.Store
}

// NewGate constructs a Gate.
func NewGate(log *slog.Logger, resolver IdentityResolver, users identity.Store, chats chat.Store) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{log: log, resolver: resolver, users: users, chats: chats}
}

// Admit validates the credential, resolves the target chat, and checks
// membership. On success it returns the authenticated user and the chat.
//
// Failure modes, in check order:
//   - ErrUnauthenticated: missing or unresolvable credential
//   - ErrNotFound: target chat or peer does not exist
//   - ErrForbidden: user is not a member of the target chat
func (g *Gate) Admit(ctx context.Context, credential string, target Target, now time.Time) (identity.User, chat.Chat, error) {
	if credential == "" {
		return identity.User{}, chat.Chat{}, fmt.Errorf("missing credential: %w", ErrUnauthenticated)
	}

	user, err := g.resolver.Resolve(ctx, credential, now)
	if err != nil {
		g.log.Debug("gate.credential.reject", "err", err)
		return identity.User{}, chat.Chat{}, fmt.Errorf("resolve credential: %w", ErrUnauthenticated)
	}

	ch, err := g.resolveTarget(ctx, user, target)
	if err != nil {
		return identity.User{}, chat.Chat{}, err
	}

	ok, err := g.chats.IsMember(ctx, ch.ID, user.ID)
	if err != nil {
		return identity.User{}, chat.Chat{}, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		g.log.Warn("gate.membership.reject", "user_id", user.ID, "chat_id", ch.ID)
		return identity.User{}, chat.Chat{}, fmt.Errorf("user %d not in chat %d: %w", user.ID, ch.ID, ErrForbidden)
	}

	return user, ch, nil
}

func (g *Gate) resolveTarget(ctx context.Context, user identity.User, target Target) (chat.Chat, error) {
	switch {
	case target.PeerPublicID != "":
		peer, err := g.users.GetByPublicID(ctx, target.PeerPublicID)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return chat.Chat{}, fmt.Errorf("peer %q: %w", target.PeerPublicID, ErrNotFound)
			}
			return chat.Chat{}, fmt.Errorf("lookup peer: %w", err)
		}
		ch, err := g.chats.GetOrCreatePrivateChat(ctx, user.ID, peer.ID)
		if err != nil {
			if errors.Is(err, chat.ErrSelfChat) {
				return chat.Chat{}, fmt.Errorf("self chat: %w", ErrForbidden)
			}
			return chat.Chat{}, fmt.Errorf("get or create chat: %w", err)
		}
		return ch, nil

	case target.ChatID > 0:
		ch, err := g.chats.GetChat(ctx, target.ChatID)
		if err != nil {
			if errors.Is(err, chat.ErrNotFound) {
				return chat.Chat{}, fmt.Errorf("chat %d: %w", target.ChatID, ErrNotFound)
			}
			return chat.Chat{}, fmt.Errorf("lookup chat: %w", err)
		}
		return ch, nil

	default:
		return chat.Chat{}, fmt.Errorf("no target chat given: %w", ErrNotFound)
	}
}
