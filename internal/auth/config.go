package auth

import (
	"os"
	"strconv"
	"time"
)

// Config defines runtime configuration for the auth subsystem.
//
// It is intentionally explicit and environment-driven so production
// deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of PASETO access tokens.
	AccessTokenTTL time.Duration

	// RefreshTTL defines the lifetime of opaque refresh tokens.
	RefreshTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh tokens.
	RefreshTokenBytes int

	// Login throttling: at most LoginAttempts per username per LoginWindow.
	LoginAttempts int
	LoginWindow   time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public access tokens. When empty, an ephemeral key is
	// generated at startup (dev only: tokens do not survive restarts).
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns a secure default configuration suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:            "webchat",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		LoginAttempts:     5,
		LoginWindow:       time.Minute,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - WEBCHAT_AUTH_ISSUER
//   - WEBCHAT_AUTH_ACCESS_TTL
//   - WEBCHAT_AUTH_REFRESH_TTL
//   - WEBCHAT_AUTH_CLOCK_SKEW
//   - WEBCHAT_AUTH_REFRESH_TOKEN_BYTES
//   - WEBCHAT_AUTH_LOGIN_ATTEMPTS
//   - WEBCHAT_AUTH_LOGIN_WINDOW
//   - WEBCHAT_PASETO_V4_SECRET_KEY_HEX
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("WEBCHAT_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("WEBCHAT_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}
	if v := os.Getenv("WEBCHAT_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}
	if v := os.Getenv("WEBCHAT_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}
	if v := os.Getenv("WEBCHAT_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 16 || n > 128 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}
	if v := os.Getenv("WEBCHAT_AUTH_LOGIN_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LoginAttempts = n
	}
	if v := os.Getenv("WEBCHAT_AUTH_LOGIN_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LoginWindow = d
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("WEBCHAT_PASETO_V4_SECRET_KEY_HEX")

	return cfg, nil
}
