package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DangeRika/Web-chat/internal/identity"
)

func newTestService(t *testing.T) (*Service, identity.Store) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.LoginAttempts = 3
	cfg.LoginWindow = time.Minute

	tokens, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}

	users := identity.NewInMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewService(cfg, log, users, tokens, NewInMemoryRefreshStore()), users
}

func TestService_Register_Login_Resolve(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := svc.Register(ctx, "alice", "correct horse battery")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	issued, loggedIn, err := svc.Login(ctx, now, "alice", "correct horse battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loggedIn.ID != u.ID {
		t.Fatalf("login user mismatch")
	}
	if issued.AccessToken == "" || issued.RefreshToken == "" {
		t.Fatalf("missing tokens")
	}

	resolved, err := svc.Resolve(ctx, issued.AccessToken, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != u.ID || resolved.PublicID != u.PublicID {
		t.Fatalf("resolve mismatch: %+v vs %+v", resolved, u)
	}
}

func TestService_Login_BadCredentials(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.Register(ctx, "bob", "super secret pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.Login(ctx, now, "bob", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, now, "nobody", "whatever pw 1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_Login_RateLimited(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.Register(ctx, "eve", "super secret pw"); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Login(ctx, now, "eve", "bad guess"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	// Fourth attempt inside the window is throttled even with the right password.
	if _, _, err := svc.Login(ctx, now, "eve", "super secret pw"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Outside the window the attempt succeeds again.
	if _, _, err := svc.Login(ctx, now.Add(2*time.Minute), "eve", "super secret pw"); err != nil {
		t.Fatalf("post-window login: %v", err)
	}
}

func TestService_Refresh_And_Logout(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := svc.Register(ctx, "carol", "super secret pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	issued, _, err := svc.Login(ctx, now, "carol", "super secret pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	access, exp, err := svc.Refresh(ctx, now.Add(time.Hour), issued.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access == "" || !exp.After(now) {
		t.Fatalf("bad refreshed token")
	}

	resolved, err := svc.Resolve(ctx, access, now.Add(time.Hour))
	if err != nil || resolved.ID != u.ID {
		t.Fatalf("resolve refreshed token: user=%+v err=%v", resolved, err)
	}

	if err := svc.Logout(ctx, now.Add(time.Hour), u.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, _, err := svc.Refresh(ctx, now.Add(2*time.Hour), issued.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after logout, got %v", err)
	}

	// Garbage refresh tokens are simply invalid.
	if _, _, err := svc.Refresh(ctx, now, "no-such-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_Resolve_RejectsGarbage(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, "garbage", time.Now().UTC()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
