package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "github.com/DangeRika/Web-chat/contracts/realtime/v1"
	"github.com/DangeRika/Web-chat/internal/chat"
	"github.com/DangeRika/Web-chat/internal/identity"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "webchat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsDefaultHistoryLimit = 50
	wsMaxHistoryLimit     = 200

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for realtime chat.
//
// Every check that can fail a connection (credential, target resolution,
// membership) runs before the upgrade, so rejected attempts never allocate
// a session, a registry slot, or websocket buffers.
type WSGateway struct {
	log         *slog.Logger
	gate        *Gate
	registry    *Registry
	broadcaster *Broadcaster
	chats       chat.Store
	users       identity.Store
	metrics     *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewWSGateway constructs a gateway with secure defaults. metrics may be nil.
func NewWSGateway(log *slog.Logger, gate *Gate, registry *Registry, broadcaster *Broadcaster, chats chat.Store, users identity.Store, metrics *Metrics) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &WSGateway{
		log:         log,
		gate:        gate,
		registry:    registry,
		broadcaster: broadcaster,
		chats:       chats,
		users:       users,
		metrics:     metrics,
		shutdownCh:  make(chan struct{}),
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("WEBCHAT_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("WEBCHAT_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("WEBCHAT_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("WEBCHAT_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("WEBCHAT_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("WEBCHAT_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("WEBCHAT_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("WEBCHAT_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("WEBCHAT_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("WEBCHAT_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// Shutdown closes every live session with a going-away frame and makes the
// gateway refuse new connection attempts. http.Server.Shutdown does not cover
// hijacked websocket connections, so App teardown calls this first.
// Safe to call more than once.
func (g *WSGateway) Shutdown() {
	g.shutdownOnce.Do(func() { close(g.shutdownCh) })
}

// HandleWS admits the connection attempt, upgrades it, and runs the
// realtime loop until the peer disconnects or is evicted.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.shutdownCh:
		g.countReject("shutting_down")
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.countReject("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	credential := bearerCredential(r)
	target, err := parseTarget(r)
	if err != nil {
		g.countReject("bad_target")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, ch, err := g.gate.Admit(r.Context(), credential, target, time.Now().UTC())
	if err != nil {
		status, reason := admitStatus(err)
		g.log.Info("ws.reject.admit", "reason", reason, "remote", r.RemoteAddr, "err", err)
		g.countReject(reason)
		http.Error(w, reason, status)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = wsConn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := wsConn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = wsConn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	wsConn.SetReadLimit(maxFrameBytes)

	c := NewConn(user.ID, user.PublicID, ch.ID, g.sendQueueSize, time.Now().UTC())
	g.registry.Register(c)
	if g.metrics != nil {
		g.metrics.ConnectionsTotal.Inc()
		g.metrics.ConnectionsActive.Inc()
	}

	g.log.Info("ws.session.open",
		"session_id", c.SessionID,
		"user_id", user.ID,
		"chat_id", ch.ID,
		"remote", r.RemoteAddr,
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// shutdown is idempotent. It does NOT close c.Send.
	// Unregister happens before c.Close so the broadcaster never observes a
	// closed connection still listed under the chat key.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.registry.Unregister(c.ChatID, c.SessionID)
			c.Close()
			_ = wsConn.Close(code, reason)
			cancel()
			if g.metrics != nil {
				g.metrics.ConnectionsActive.Dec()
			}
		})
	}

	// The session context is derived from the request, which http.Server
	// stops cancelling once the connection is hijacked. Watch the gateway
	// shutdown signal explicitly so server teardown reaches live sessions.
	go func() {
		select {
		case <-g.shutdownCh:
			shutdown(websocket.StatusGoingAway, "server shutdown")
		case <-ctx.Done():
		}
	}()

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	// Public ids for history payloads; at most the two chat members.
	publicIDs := map[int64]string{user.ID: user.PublicID}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				// Evicted by the broadcaster (slow consumer) or local shutdown.
				shutdown(websocket.StatusPolicyViolation, "send queue overflow")
				return
			case env := <-c.Send:
				if err := writeEnvelope(ctx, wsConn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", c.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := wsConn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", c.SessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, wsConn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, c, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", c.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, c, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, c, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, c, env, now); err != nil {
				g.trySendError(ctx, c, sendErrorCode(err), err.Error())
				continue readLoop
			}

		case v1.TypeHistoryFetch:
			if err := g.onHistoryFetch(ctx, c, env, publicIDs); err != nil {
				g.trySendError(ctx, c, "history_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, c, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.session.close", "session_id", c.SessionID, "user_id", c.UserID, "chat_id", c.ChatID)
}

// ---- handlers ----

func (g *WSGateway) onMessageSend(ctx context.Context, c *Conn, env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	_, _, err := g.broadcaster.Deliver(ctx, c.ChatID, c.UserID, c.UserPublicID, p.Content, now)
	return err
}

func (g *WSGateway) onHistoryFetch(ctx context.Context, c *Conn, env v1.Envelope, publicIDs map[int64]string) error {
	var p v1.HistoryFetchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = wsDefaultHistoryLimit
	}
	if limit > wsMaxHistoryLimit {
		limit = wsMaxHistoryLimit
	}

	out, err := g.chats.ListMessages(ctx, chat.ListMessagesInput{
		ChatID:  c.ChatID,
		SinceID: p.SinceID,
		Limit:   limit,
	})
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]v1.MessageNewPayload, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, v1.MessageNewPayload{
			MessageID:    m.Token,
			ChatID:       m.ChatID,
			SenderID:     m.SenderID,
			SenderPublic: g.publicIDFor(ctx, publicIDs, m.SenderID),
			Content:      m.Content,
			CreatedAt:    m.CreatedAt,
		})
	}

	chunk, err := NewServerEnvelope(v1.TypeHistoryChunk, v1.HistoryChunkPayload{
		ChatID:   c.ChatID,
		Messages: msgs,
		HasMore:  out.HasMore,
	}, time.Now().UTC())
	if err != nil {
		return err
	}

	if !g.enqueue(ctx, c, chunk) {
		return errors.New("backpressure: history chunk")
	}
	return nil
}

func (g *WSGateway) publicIDFor(ctx context.Context, cache map[int64]string, userID int64) string {
	if pid, ok := cache[userID]; ok {
		return pid
	}
	u, err := g.users.GetByID(ctx, userID)
	if err != nil {
		g.log.Warn("ws.history.public_id", "user_id", userID, "err", err)
		cache[userID] = ""
		return ""
	}
	cache[userID] = u.PublicID
	return u.PublicID
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, c *Conn, code, msg string) {
	env, err := NewServerEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, c, env)
}

func (g *WSGateway) enqueue(ctx context.Context, c *Conn, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return c.TryEnqueue(env)
}

func (g *WSGateway) countReject(reason string) {
	if g.metrics != nil {
		g.metrics.AdmissionRejects.WithLabelValues(reason).Inc()
	}
}

// sendErrorCode maps store validation failures onto stable wire codes.
func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrContentEmpty), errors.Is(err, chat.ErrContentTooLong):
		return "content_invalid"
	default:
		return "store_unavailable"
	}
}

// ---- admission plumbing ----

// bearerCredential extracts the access token from the Authorization header,
// falling back to the token query parameter for browser websocket clients
// that cannot set headers.
func bearerCredential(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func parseTarget(r *http.Request) (Target, error) {
	q := r.URL.Query()
	rawChat := strings.TrimSpace(q.Get("chat_id"))
	peer := strings.TrimSpace(q.Get("peer"))

	switch {
	case rawChat != "" && peer != "":
		return Target{}, errors.New("chat_id and peer are mutually exclusive")
	case rawChat != "":
		id, err := strconv.ParseInt(rawChat, 10, 64)
		if err != nil || id <= 0 {
			return Target{}, errors.New("invalid chat_id")
		}
		return Target{ChatID: id}, nil
	case peer != "":
		return Target{PeerPublicID: peer}, nil
	default:
		return Target{}, errors.New("missing chat_id or peer")
	}
}

func admitStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
