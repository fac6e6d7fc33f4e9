package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DangeRika/Web-chat/internal/identity"
)

// Service implements the high-level auth operations: registration, login,
// refresh, logout, and credential resolution for the realtime layer.
type Service struct {
	cfg     Config
	log     *slog.Logger
	users   identity.Store
	tokens  TokenManager
	refresh RefreshStore
	limiter *LoginLimiter

	// dummyHash keeps login timing comparable when the username is unknown.
	dummyHash string
}

// Issued is the result of a successful login or refresh.
type Issued struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service with the provided stores and token manager.
func NewService(cfg Config, log *slog.Logger, users identity.Store, tokens TokenManager, refresh RefreshStore) *Service {
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:     cfg,
		log:     log,
		users:   users,
		tokens:  tokens,
		refresh: refresh,
		limiter: NewLoginLimiter(cfg.LoginAttempts, cfg.LoginWindow),
	}

	if hash, err := identity.HashPassword("dummy-password-for-timing-only", identity.DefaultArgon2idParams()); err == nil {
		s.dummyHash = hash
	}

	return s
}

// Register creates a new user with a hashed credential.
func (s *Service) Register(ctx context.Context, username, password string) (identity.User, error) {
	hash, err := identity.HashPassword(password, identity.DefaultArgon2idParams())
	if err != nil {
		return identity.User{}, err
	}

	u, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Username:     username,
		PasswordHash: hash,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		return identity.User{}, err
	}

	s.log.Info("auth.register", "user_id", u.ID, "public_id", u.PublicID)
	return u, nil
}

// Login verifies a username/password pair and issues a token pair.
func (s *Service) Login(ctx context.Context, now time.Time, username, password string) (Issued, identity.User, error) {
	key := identity.NormalizeUsername(username)
	if !s.limiter.Allow(key, now) {
		s.log.Info("auth.login.throttled", "username", key)
		return Issued{}, identity.User{}, ErrRateLimited
	}

	userID, hash, err := s.users.PasswordHashByUsername(ctx, username)
	if err != nil {
		if identity.IsNotFound(err) {
			// Burn comparable time so unknown-user and wrong-password are
			// indistinguishable to a remote observer.
			_, _ = identity.VerifyPassword(password, s.dummyHash)
			return Issued{}, identity.User{}, ErrInvalidCredentials
		}
		return Issued{}, identity.User{}, err
	}

	ok, err := identity.VerifyPassword(password, hash)
	if err != nil || !ok {
		return Issued{}, identity.User{}, ErrInvalidCredentials
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Issued{}, identity.User{}, err
	}

	issued, err := s.issue(ctx, now, userID)
	if err != nil {
		return Issued{}, identity.User{}, err
	}

	s.limiter.Forget(key)
	s.log.Info("auth.login", "user_id", userID)
	return issued, u, nil
}

// Refresh exchanges a valid refresh token for a fresh access token.
// The refresh token itself is left valid until logout or expiry.
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshToken string) (accessToken string, exp time.Time, err error) {
	userID, err := s.refresh.UserIDByHash(ctx, hashRefreshToken(refreshToken), now)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.tokens.Issue(userID, now)
}

// Logout revokes every refresh token for the user (logout everywhere).
// Outstanding access tokens stay valid until their short TTL elapses.
func (s *Service) Logout(ctx context.Context, now time.Time, userID int64) error {
	if err := s.refresh.RevokeAll(ctx, userID, now); err != nil {
		return err
	}
	s.log.Info("auth.logout", "user_id", userID)
	return nil
}

// Resolve turns an opaque bearer credential into a user identity or fails
// with ErrInvalidToken. This is the only auth surface the realtime layer uses.
func (s *Service) Resolve(ctx context.Context, credential string, now time.Time) (identity.User, error) {
	claims, err := s.tokens.Verify(credential, now)
	if err != nil {
		return identity.User{}, err
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, ErrInvalidToken
		}
		return identity.User{}, fmt.Errorf("resolve user: %w", err)
	}
	return u, nil
}

func (s *Service) issue(ctx context.Context, now time.Time, userID int64) (Issued, error) {
	refreshPlain, refreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	refreshExp := now.Add(s.cfg.RefreshTTL)

	if err := s.refresh.Save(ctx, userID, refreshHash, refreshExp); err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(userID, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}
