package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// Wires the full in-memory app and checks the operational endpoints.
func TestApp_OperationalEndpoints(t *testing.T) {
	t.Setenv("WEBCHAT_DATABASE_URL", "")

	cfg := LoadConfig()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(cfg, log)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.api, a.promReg)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	get := func(path string) (*http.Response, string) {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp, string(body)
	}

	if resp, body := get("/healthz"); resp.StatusCode != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthz: status=%d body=%q", resp.StatusCode, body)
	}
	if resp, _ := get("/readyz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: status=%d", resp.StatusCode)
	}

	resp, body := get("/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status=%d", resp.StatusCode)
	}
	if !strings.Contains(body, "webchat_realtime_connections_active") {
		t.Fatalf("metrics missing realtime collectors:\n%s", body[:min(len(body), 400)])
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	t.Setenv("WEBCHAT_DATABASE_URL", "")
	t.Setenv("WEBCHAT_READINESS_REQUIRE_DB", "true")

	cfg := LoadConfig()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(cfg, log)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.api, a.promReg)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db: status=%d, want 503", resp.StatusCode)
	}
}
