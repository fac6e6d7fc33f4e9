// Package app wires the server runtime: config, logging, stores, HTTP routes,
// and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/DangeRika/Web-chat/internal/api"
	"github.com/DangeRika/Web-chat/internal/auth"
	"github.com/DangeRika/Web-chat/internal/chat"
	"github.com/DangeRika/Web-chat/internal/identity"
	"github.com/DangeRika/Web-chat/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the server runtime: it owns HTTP server wiring and the realtime
// gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	ws      *realtime.WSGateway
	api     *api.Handler
	promReg *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	st, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		st.close()
		return nil, err
	}
	tokens, err := auth.NewPasetoV4PublicManager(authCfg)
	if err != nil {
		st.close()
		return nil, err
	}
	authSvc := auth.NewService(authCfg, log, st.users, tokens, st.refresh)

	registry := realtime.NewRegistry(log)

	var promReg *prometheus.Registry
	var metrics *realtime.Metrics
	if cfg.MetricsEnabled {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = realtime.NewMetrics(promReg, registry)
	}

	broadcaster := realtime.NewBroadcaster(log, st.chats, registry, metrics)
	gate := realtime.NewGate(log, authSvc, st.users, st.chats)
	ws := realtime.NewWSGateway(log, gate, registry, broadcaster, st.chats, st.users, metrics)
	apiHandler := api.NewHandler(log, authSvc, st.users, st.chats, broadcaster)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    st.pool,
		dbEnabled: st.pool != nil,
		ws:        ws,
		api:       apiHandler,
		promReg:   promReg,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.api, a.promReg)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// srv.Shutdown only drains regular requests; websocket sessions are
	// hijacked connections and must be closed through the gateway.
	a.ws.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// stores bundles the persistence layer behind one lifecycle handle.
type stores struct {
	users   identity.Store
	chats   chat.Store
	refresh auth.RefreshStore
	pool    *pgxpool.Pool
}

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return &stores{
			users:   identity.NewInMemoryStore(),
			chats:   chat.NewInMemoryStore(),
			refresh: auth.NewInMemoryRefreshStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}
	chats, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}
	refresh, err := auth.NewPostgresRefreshStore(pool, auth.WithRefreshSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return &stores{users: users, chats: chats, refresh: refresh, pool: pool}, nil
}

func (s *stores) close() {
	if s.chats != nil {
		_ = s.chats.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Close implements the app Store lifecycle.
// Ownership model: the app owns the pool; store Close methods are no-ops for
// Postgres implementations.
func (s *stores) Close(_ context.Context) error {
	s.close()
	return nil
}
