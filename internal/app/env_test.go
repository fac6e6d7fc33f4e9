package app

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("WEBCHAT_TEST_STR", "  hello  ")
	t.Setenv("WEBCHAT_TEST_BOOL", "true")
	t.Setenv("WEBCHAT_TEST_INT", "42")
	t.Setenv("WEBCHAT_TEST_INT_BAD", "-3")
	t.Setenv("WEBCHAT_TEST_DUR", "250ms")
	t.Setenv("WEBCHAT_TEST_DUR_BAD", "soon")

	if got := EnvString("WEBCHAT_TEST_STR", "def"); got != "hello" {
		t.Fatalf("EnvString = %q", got)
	}
	if got := EnvString("WEBCHAT_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default = %q", got)
	}
	if !EnvBool("WEBCHAT_TEST_BOOL", false) {
		t.Fatalf("EnvBool should be true")
	}
	if got := EnvInt("WEBCHAT_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt = %d", got)
	}
	if got := EnvInt("WEBCHAT_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("EnvInt negative should default, got %d", got)
	}
	if got := EnvInt32("WEBCHAT_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt32 = %d", got)
	}
	if got := EnvDuration("WEBCHAT_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration = %v", got)
	}
	if got := EnvDuration("WEBCHAT_TEST_DUR_BAD", time.Second); got != time.Second {
		t.Fatalf("EnvDuration bad should default, got %v", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr == "" || cfg.LogLevel == "" {
		t.Fatalf("missing defaults: %+v", cfg)
	}
	if cfg.DBSchema != "webchat" {
		t.Fatalf("schema default = %q", cfg.DBSchema)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("metrics should default on")
	}
}
