package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	v1 "github.com/DangeRika/Web-chat/contracts/realtime/v1"
	"github.com/DangeRika/Web-chat/internal/chat"
	"github.com/DangeRika/Web-chat/internal/identity"

	"github.com/coder/websocket"
)

type gatewayFixture struct {
	gw    *WSGateway
	reg   *Registry
	ts    *httptest.Server
	users identity.Store
	chats chat.Store
	alice identity.User
	bob   identity.User
	carol identity.User
	chID  int64
}

// newGatewayFixture wires a full gateway on in-memory stores. Credentials
// are static: "tok-<username>".
func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	t.Setenv("WEBCHAT_WS_ORIGIN_REQUIRED", "false")

	ctx := context.Background()
	now := time.Now().UTC()
	log := testLogger()

	users := identity.NewInMemoryStore()
	chats := chat.NewInMemoryStore()

	mkUser := func(name string) identity.User {
		u, err := users.CreateUser(ctx, identity.CreateUserInput{Username: name, PasswordHash: "x", Now: now})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return u
	}
	alice := mkUser("alice")
	bob := mkUser("bob")
	carol := mkUser("carol")

	ch, err := chats.GetOrCreatePrivateChat(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	resolver := staticResolver{users: map[string]identity.User{
		"tok-alice": alice,
		"tok-bob":   bob,
		"tok-carol": carol,
	}}

	reg := NewRegistry(log)
	b := NewBroadcaster(log, chats, reg, nil)
	gate := NewGate(log, resolver, users, chats)
	gw := NewWSGateway(log, gate, reg, b, chats, users, nil)

	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)

	return &gatewayFixture{
		gw: gw, reg: reg, ts: ts,
		users: users, chats: chats,
		alice: alice, bob: bob, carol: carol,
		chID: ch.ID,
	}
}

func (f *gatewayFixture) chatQuery(token string) string {
	return fmt.Sprintf("chat_id=%d&token=%s", f.chID, token)
}

func (f *gatewayFixture) dial(t *testing.T, ctx context.Context, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return websocket.Dial(ctx, f.ts.URL+"/?"+query, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
}

func (f *gatewayFixture) mustDial(t *testing.T, ctx context.Context, query string) *websocket.Conn {
	t.Helper()
	conn, resp, err := f.dial(t, ctx, query)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %q: %v", query, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := v1.Envelope{V: v1.Version, Type: typ, ID: "cli-1", TS: time.Now().UTC(), Payload: raw}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recvEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn, timeout time.Duration) v1.Envelope {
	t.Helper()
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, data, err := conn.Read(rctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func expectHandshakeStatus(t *testing.T, f *gatewayFixture, query string, want int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := f.dial(t, ctx, query)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "unexpected accept")
		t.Fatalf("dial %q: expected handshake failure", query)
	}
	if resp == nil || resp.StatusCode != want {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %q: status=%d, want %d", query, status, want)
	}
}

func TestWSGateway_AdmissionRejections(t *testing.T) {
	f := newGatewayFixture(t)

	expectHandshakeStatus(t, f, fmt.Sprintf("chat_id=%d", f.chID), http.StatusUnauthorized)
	expectHandshakeStatus(t, f, f.chatQuery("tok-nobody"), http.StatusUnauthorized)
	expectHandshakeStatus(t, f, f.chatQuery("tok-carol"), http.StatusForbidden)
	expectHandshakeStatus(t, f, "chat_id=9999&token=tok-alice", http.StatusNotFound)
	expectHandshakeStatus(t, f, "peer=ffffffff&token=tok-alice", http.StatusNotFound)
	expectHandshakeStatus(t, f, "token=tok-alice", http.StatusBadRequest)
	expectHandshakeStatus(t, f, "chat_id=1&peer=ffffffff&token=tok-alice", http.StatusBadRequest)
}

func TestWSGateway_MessageFlow(t *testing.T) {
	f := newGatewayFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aliceConn := f.mustDial(t, ctx, f.chatQuery("tok-alice"))
	bobConn := f.mustDial(t, ctx, "peer="+f.alice.PublicID+"&token=tok-bob")

	sendEnvelope(t, ctx, aliceConn, v1.TypeMessageSend, v1.MessageSendPayload{Content: "hello bob"})

	for name, conn := range map[string]*websocket.Conn{"alice": aliceConn, "bob": bobConn} {
		env := recvEnvelope(t, ctx, conn, 5*time.Second)
		if env.Type != v1.TypeMessageNew {
			t.Fatalf("%s got %q, want message.new", name, env.Type)
		}
		var p v1.MessageNewPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.Content != "hello bob" || p.SenderID != f.alice.ID || p.SenderPublic != f.alice.PublicID {
			t.Fatalf("%s payload mismatch: %+v", name, p)
		}
	}

	// The message is durable.
	stored, err := f.chats.ListMessages(ctx, chat.ListMessagesInput{ChatID: f.chID, Limit: 10})
	if err != nil || len(stored.Messages) != 1 {
		t.Fatalf("persisted = %d (err=%v), want 1", len(stored.Messages), err)
	}
}

func TestWSGateway_HistoryFetch(t *testing.T) {
	f := newGatewayFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Seed history before connecting.
	for _, text := range []string{"first", "second", "third"} {
		if _, err := f.chats.AppendMessage(ctx, chat.AppendMessageInput{
			ChatID: f.chID, SenderID: f.bob.ID, Content: text, Now: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	conn := f.mustDial(t, ctx, f.chatQuery("tok-alice"))
	sendEnvelope(t, ctx, conn, v1.TypeHistoryFetch, v1.HistoryFetchPayload{Limit: 2})

	env := recvEnvelope(t, ctx, conn, 5*time.Second)
	if env.Type != v1.TypeHistoryChunk {
		t.Fatalf("got %q, want history.chunk", env.Type)
	}
	var chunk v1.HistoryChunkPayload
	if err := json.Unmarshal(env.Payload, &chunk); err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if len(chunk.Messages) != 2 || !chunk.HasMore {
		t.Fatalf("chunk = %d messages, has_more=%v; want 2, true", len(chunk.Messages), chunk.HasMore)
	}
	if chunk.Messages[0].Content != "first" || chunk.Messages[1].Content != "second" {
		t.Fatalf("chunk order mismatch: %+v", chunk.Messages)
	}
	if chunk.Messages[0].SenderPublic != f.bob.PublicID {
		t.Fatalf("sender public id missing from history")
	}
}

func TestWSGateway_BadInputKeepsConnection(t *testing.T) {
	f := newGatewayFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := f.mustDial(t, ctx, f.chatQuery("tok-alice"))

	// Unknown type yields an error envelope, not a close.
	sendEnvelope(t, ctx, conn, "presence.set", map[string]string{"state": "away"})
	env := recvEnvelope(t, ctx, conn, 5*time.Second)
	if env.Type != v1.TypeError {
		t.Fatalf("got %q, want error envelope", env.Type)
	}
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != "bad_envelope" {
		t.Fatalf("code = %q, want bad_envelope", p.Code)
	}

	// Empty content is rejected per message, connection stays usable.
	sendEnvelope(t, ctx, conn, v1.TypeMessageSend, v1.MessageSendPayload{Content: "   "})
	env = recvEnvelope(t, ctx, conn, 5*time.Second)
	if env.Type != v1.TypeError {
		t.Fatalf("got %q, want error envelope", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != "content_invalid" {
		t.Fatalf("code = %q, want content_invalid", p.Code)
	}

	sendEnvelope(t, ctx, conn, v1.TypeMessageSend, v1.MessageSendPayload{Content: "still alive"})
	env = recvEnvelope(t, ctx, conn, 5*time.Second)
	if env.Type != v1.TypeMessageNew {
		t.Fatalf("got %q, want message.new after recovery", env.Type)
	}
}

func TestWSGateway_ShutdownClosesLiveSessions(t *testing.T) {
	f := newGatewayFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aliceConn := f.mustDial(t, ctx, f.chatQuery("tok-alice"))
	bobConn := f.mustDial(t, ctx, f.chatQuery("tok-bob"))

	// Both sessions must be live before teardown.
	deadline := time.Now().Add(5 * time.Second)
	for f.reg.ActiveConns() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions not registered: active=%d", f.reg.ActiveConns())
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.gw.Shutdown()

	// Each client observes a going-away close.
	for name, conn := range map[string]*websocket.Conn{"alice": aliceConn, "bob": bobConn} {
		_, _, err := conn.Read(ctx)
		if err == nil {
			t.Fatalf("%s: expected close after gateway shutdown", name)
		}
		if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
			t.Fatalf("%s: close status = %v (err=%v), want going away", name, got, err)
		}
	}

	// The registry drains; no session survives teardown.
	deadline = time.Now().Add(5 * time.Second)
	for f.reg.ActiveConns() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions still registered after shutdown: active=%d", f.reg.ActiveConns())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// New attempts are refused while shut down.
	expectHandshakeStatus(t, f, f.chatQuery("tok-alice"), http.StatusServiceUnavailable)

	// Shutdown is idempotent.
	f.gw.Shutdown()
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		query   string
		want    Target
		wantErr bool
	}{
		{"chat id", "chat_id=7", Target{ChatID: 7}, false},
		{"peer", "peer=0a1b2c3d", Target{PeerPublicID: "0a1b2c3d"}, false},
		{"both", "chat_id=7&peer=0a1b2c3d", Target{}, true},
		{"neither", "", Target{}, true},
		{"bad chat id", "chat_id=abc", Target{}, true},
		{"negative chat id", "chat_id=-2", Target{}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/ws?"+tc.query, nil)
			got, err := parseTarget(r)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestBearerCredential(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got := bearerCredential(r); got != "abc123" {
		t.Fatalf("header credential = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws?token=qrs789", nil)
	if got := bearerCredential(r); got != "qrs789" {
		t.Fatalf("query credential = %q", got)
	}

	// Header wins over query.
	r = httptest.NewRequest(http.MethodGet, "/ws?token=qrs789", nil)
	r.Header.Set("Authorization", "bearer fromheader")
	if got := bearerCredential(r); got != "fromheader" {
		t.Fatalf("precedence credential = %q", got)
	}
}
