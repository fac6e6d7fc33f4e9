package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true, /readyz returns 503 unless the database is configured and
	// reachable.
	ReadinessRequireDB bool

	MetricsEnabled bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("WEBCHAT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("WEBCHAT_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("WEBCHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WEBCHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WEBCHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WEBCHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("WEBCHAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("WEBCHAT_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("WEBCHAT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WEBCHAT_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("WEBCHAT_DB_SCHEMA", "webchat"),

		ReadinessRequireDB: EnvBool("WEBCHAT_READINESS_REQUIRE_DB", false),

		MetricsEnabled: EnvBool("WEBCHAT_METRICS_ENABLED", true),
	}
}
