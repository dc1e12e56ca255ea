package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"mentorsync/internal/gateway"
	"mentorsync/internal/ratelimit"
	"mentorsync/internal/relay"
	"mentorsync/internal/room"
	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

type stubDirectory struct{}

var stubIdentities = map[string]*types.Identity{
	"token-u1": {UserID: "u1", Name: "Uma", Role: types.RoleMentor},
	"token-u2": {UserID: "u2", Name: "Ugo", Role: types.RoleStudent},
}

var stubMembers = map[string]map[string]bool{
	"s1": {"u1": true, "u2": true},
}

func (stubDirectory) VerifyCredential(ctx context.Context, token string) (*types.Identity, error) {
	if token == "" {
		return nil, types.NewAuthError(types.MsgMissingToken, nil)
	}
	id, ok := stubIdentities[token]
	if !ok {
		return nil, types.NewAuthError(types.MsgInvalidToken, nil)
	}
	cp := *id
	return &cp, nil
}

func (stubDirectory) IsAuthorizedParticipant(ctx context.Context, userID, sessionID string) (bool, error) {
	return stubMembers[sessionID][userID], nil
}

func (stubDirectory) ResolveRole(ctx context.Context, claims *types.Claims) types.Role { return "" }

type memoryStore struct {
	mu        sync.Mutex
	chats     []*types.ChatMessage
	snapshots []*types.CodeSnapshot
}

func (s *memoryStore) AppendChatMessage(ctx context.Context, msg *types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, msg)
	return nil
}

func (s *memoryStore) AppendCodeSnapshot(ctx context.Context, snap *types.CodeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

var _ interfaces.EventStore = (*memoryStore)(nil)

type testServer struct {
	*httptest.Server
	handler *Handler
	rooms   *room.Registry
	store   *memoryStore
}

func testOptions() Options {
	return Options{
		PingInterval:     time.Second,
		PongWait:         5 * time.Second,
		WriteTimeout:     time.Second,
		HandshakeTimeout: 200 * time.Millisecond,
		SendBuffer:       16,
		MaxMessageBytes:  1 << 16,
	}
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	rooms := room.NewRegistry(zap.NewNop())
	store := &memoryStore{}
	gw := gateway.New(stubDirectory{}, store, rooms, ratelimit.Unlimited{}, relay.Discard{}, gateway.Options{
		VerifyTimeout:     time.Second,
		AuthorizeTimeout:  time.Second,
		PersistTimeout:    time.Second,
		MaxChatLength:     2000,
		MaxLanguageLength: 32,
	}, zap.NewNop())

	h := NewHandler(gw, opts, zap.NewNop())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
	})
	return &testServer{Server: srv, handler: h, rooms: rooms, store: store}
}

func (s *testServer) url(query string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws" + query
}

func (s *testServer) dial(t *testing.T, query string, header http.Header) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(s.url(query), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func next(t *testing.T, ws *websocket.Conn) gjson.Result {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	return gjson.ParseBytes(raw)
}

func expectEvent(t *testing.T, ws *websocket.Conn, event string) gjson.Result {
	t.Helper()
	frame := next(t, ws)
	require.Equal(t, event, frame.Get("event").String(), "frame: %s", frame.Raw)
	return frame.Get("data")
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, code, ce.Code)
}

func TestHandler_HeaderCredential(t *testing.T) {
	srv := newTestServer(t, testOptions())
	ws := srv.dial(t, "", bearer("token-u1"))

	data := expectEvent(t, ws, types.EventAuthenticated)
	assert.Equal(t, "u1", data.Get("userId").String())
	assert.Equal(t, "Uma", data.Get("name").String())
	assert.Equal(t, "mentor", data.Get("role").String())
}

func TestHandler_QueryCredential(t *testing.T) {
	srv := newTestServer(t, testOptions())
	ws := srv.dial(t, "?token=token-u2", nil)

	data := expectEvent(t, ws, types.EventAuthenticated)
	assert.Equal(t, "u2", data.Get("userId").String())
}

func TestHandler_AuthFrameCredential(t *testing.T) {
	srv := newTestServer(t, testOptions())
	ws := srv.dial(t, "", nil)

	send(t, ws, `{"event":"auth","ack":"a1","data":{"token":"token-u1"}}`)
	expectEvent(t, ws, types.EventAuthenticated)

	ack := next(t, ws)
	assert.Equal(t, "ack", ack.Get("event").String())
	assert.Equal(t, "a1", ack.Get("ack").String())
	assert.True(t, ack.Get("data.ok").Bool())
}

func TestHandler_RejectsBadCredentials(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		header  http.Header
		first   string
		message string
	}{
		{"forged header token", "", bearer("forged"), "", types.MsgInvalidToken},
		{"forged auth frame", "", nil, `{"event":"auth","data":{"token":"forged"}}`, types.MsgInvalidToken},
		{"empty auth frame", "", nil, `{"event":"auth","data":{}}`, types.MsgMissingToken},
		{"event before auth", "", nil, `{"event":"session:join","data":{"sessionId":"s1"}}`, types.MsgMissingToken},
		{"garbage before auth", "", nil, `hello`, types.MsgMissingToken},
		{"silent client", "", nil, "", types.MsgMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, testOptions())
			ws := srv.dial(t, tt.query, tt.header)
			if tt.first != "" {
				send(t, ws, tt.first)
			}

			data := expectEvent(t, ws, types.EventError)
			assert.Equal(t, tt.message, data.Get("message").String())
			expectClose(t, ws, websocket.ClosePolicyViolation)

			assert.Eventually(t, func() bool { return srv.handler.Active() == 0 }, time.Second, 10*time.Millisecond)
		})
	}
}

func TestHandler_RejectedAuthFrameIsAcked(t *testing.T) {
	srv := newTestServer(t, testOptions())
	ws := srv.dial(t, "", nil)

	send(t, ws, `{"event":"auth","ack":7,"data":{"token":"forged"}}`)

	ack := next(t, ws)
	assert.Equal(t, "ack", ack.Get("event").String())
	assert.Equal(t, int64(7), ack.Get("ack").Int())
	assert.False(t, ack.Get("data.ok").Bool())
	assert.Equal(t, types.MsgInvalidToken, ack.Get("data.message").String())

	expectEvent(t, ws, types.EventError)
	expectClose(t, ws, websocket.ClosePolicyViolation)
}

func TestHandler_SessionScenario(t *testing.T) {
	srv := newTestServer(t, testOptions())

	c1 := srv.dial(t, "", bearer("token-u1"))
	expectEvent(t, c1, types.EventAuthenticated)
	c2 := srv.dial(t, "?token=token-u2", nil)
	expectEvent(t, c2, types.EventAuthenticated)

	for _, ws := range []*websocket.Conn{c1, c2} {
		send(t, ws, `{"event":"session:join","ack":1,"data":{"sessionId":"s1"}}`)
		assert.True(t, expectEvent(t, ws, types.EventAck).Get("ok").Bool())
		assert.Equal(t, "s1", expectEvent(t, ws, types.EventJoined).Get("sessionId").String())
	}
	assert.Len(t, srv.rooms.MembersOf("s1"), 2)

	send(t, c1, `{"event":"chat:message","ack":2,"data":{"text":"hello room"}}`)
	mine := expectEvent(t, c1, types.EventChatMessage)
	assert.Equal(t, "u1", mine.Get("author.id").String())
	assert.Equal(t, "hello room", mine.Get("text").String())
	assert.True(t, expectEvent(t, c1, types.EventAck).Get("ok").Bool())

	theirs := expectEvent(t, c2, types.EventChatMessage)
	assert.Equal(t, mine.Get("id").String(), theirs.Get("id").String())
	assert.Equal(t, "s1", theirs.Get("sessionId").String())

	send(t, c1, `{"event":"code:update","ack":3,"data":{"code":"print(1)","language":"python"}}`)
	ack := next(t, c1)
	assert.Equal(t, "ack", ack.Get("event").String(), "sender receives no code echo")
	assert.Equal(t, int64(3), ack.Get("ack").Int())

	update := expectEvent(t, c2, types.EventCodeUpdate)
	assert.Equal(t, "print(1)", update.Get("code").String())
	assert.Equal(t, "python", update.Get("language").String())
	assert.Equal(t, "u1", update.Get("authorId").String())

	srv.store.mu.Lock()
	assert.Len(t, srv.store.chats, 1)
	assert.Len(t, srv.store.snapshots, 1)
	srv.store.mu.Unlock()

	require.NoError(t, c2.Close())
	assert.Eventually(t, func() bool { return len(srv.rooms.MembersOf("s1")) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ErrorsKeepConnectionOpen(t *testing.T) {
	srv := newTestServer(t, testOptions())
	ws := srv.dial(t, "", bearer("token-u2"))
	expectEvent(t, ws, types.EventAuthenticated)

	send(t, ws, `{"event":"chat:message","ack":"c","data":{"text":"hi"}}`)
	ack := expectEvent(t, ws, types.EventAck)
	assert.False(t, ack.Get("ok").Bool())
	assert.Equal(t, types.MsgJoinBeforeChat, ack.Get("message").String())
	assert.Equal(t, types.MsgJoinBeforeChat, expectEvent(t, ws, types.EventError).Get("message").String())

	send(t, ws, `not json`)
	assert.Equal(t, msgMalformedFrame, expectEvent(t, ws, types.EventError).Get("message").String())

	send(t, ws, `{"event":"session:join","data":{"sessionId":"s9"}}`)
	assert.Equal(t, types.MsgNotParticipant, expectEvent(t, ws, types.EventError).Get("message").String())

	send(t, ws, `{"event":"session:join","ack":4,"data":{"sessionId":"s1"}}`)
	assert.True(t, expectEvent(t, ws, types.EventAck).Get("ok").Bool())
	expectEvent(t, ws, types.EventJoined)
}

func TestHandler_OriginCheck(t *testing.T) {
	opts := testOptions()
	opts.AllowedOrigins = []string{"https://app.example.com/"}
	srv := newTestServer(t, opts)

	_, resp, err := websocket.DefaultDialer.Dial(srv.url("?token=token-u1"), http.Header{"Origin": []string{"https://evil.example.com"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws := srv.dial(t, "?token=token-u1", http.Header{"Origin": []string{"https://app.example.com"}})
	expectEvent(t, ws, types.EventAuthenticated)
}

func TestHandler_Shutdown(t *testing.T) {
	srv := newTestServer(t, testOptions())
	ws := srv.dial(t, "", bearer("token-u1"))
	expectEvent(t, ws, types.EventAuthenticated)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.handler.Shutdown(ctx))

	expectClose(t, ws, websocket.CloseGoingAway)
	assert.Equal(t, int64(0), srv.handler.Active())
	assert.Equal(t, room.Stats{}, srv.rooms.Stats())

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandler_ShutdownDuringHandshake(t *testing.T) {
	opts := testOptions()
	opts.HandshakeTimeout = time.Minute
	srv := newTestServer(t, opts)
	ws := srv.dial(t, "", nil)
	require.Eventually(t, func() bool { return srv.handler.Active() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.handler.Shutdown(ctx))

	expectClose(t, ws, websocket.CloseGoingAway)
	assert.Equal(t, int64(0), srv.handler.Active())
}

func TestCredentialFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer abc", "", "abc"},
		{"lowercase scheme", "bearer abc", "", "abc"},
		{"header wins over query", "Bearer abc", "xyz", "abc"},
		{"query fallback", "", "xyz", "xyz"},
		{"non-bearer header ignored", "Basic Zm9v", "xyz", "xyz"},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?token="+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, credentialFromRequest(r))
		})
	}
}
