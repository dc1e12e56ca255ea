package integration

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"mentorsync/internal/app"
	"mentorsync/internal/config"
	"mentorsync/pkg/types"
)

const jwtSecret = "integration-secret-with-at-least-32-chars"

var dialer = websocket.DefaultDialer

type stack struct {
	base   string
	dbPath string
}

// startStack runs the whole server on sqlite with local JWT verification.
func startStack(t *testing.T) *stack {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port
	cfg.Auth.Mode = config.AuthModeJWT
	cfg.Auth.JWTSecret = jwtSecret
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")

	application, err := app.NewApplication(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	return &stack{base: application.Addr(), dbPath: cfg.Database.Path}
}

func accessToken(t *testing.T, sub, name string, role types.Role) string {
	t.Helper()
	meta := map[string]interface{}{"name": name}
	if role != "" {
		meta["role"] = string(role)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":           sub,
		"email":         name + "@example.com",
		"user_metadata": meta,
		"exp":           time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func (s *stack) do(t *testing.T, method, path, token, body string) (int, gjson.Result) {
	t.Helper()
	req, err := http.NewRequest(method, "http://"+s.base+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, gjson.ParseBytes(raw)
}

func (s *stack) count(t *testing.T, table, sessionID string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", s.dbPath)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE session_id = ?", sessionID).Scan(&n))
	return n
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

// connect dials with the query-string credential and consumes
// session:authenticated.
func (s *stack) connect(t *testing.T, token string) *client {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: s.base, Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	ws, _, err := dialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	c := &client{t: t, ws: ws}
	c.expect(types.EventAuthenticated)
	return c
}

func (c *client) send(event string, ack int, data string) {
	c.t.Helper()
	frame := `{"event":"` + event + `","ack":` + strconv.Itoa(ack) + `,"data":` + data + `}`
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (c *client) next() gjson.Result {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	return gjson.ParseBytes(raw)
}

// expect reads until event arrives, skipping acks.
func (c *client) expect(event string) gjson.Result {
	c.t.Helper()
	for {
		frame := c.next()
		if frame.Get("event").String() == event {
			return frame.Get("data")
		}
		if frame.Get("event").String() != types.EventAck {
			c.t.Fatalf("expected %s, got %s", event, frame.Raw)
		}
	}
}

// ack reads until the ack for id arrives, skipping broadcasts.
func (c *client) ack(id int) gjson.Result {
	c.t.Helper()
	for {
		frame := c.next()
		if frame.Get("event").String() == types.EventAck && frame.Get("ack").Int() == int64(id) {
			return frame.Get("data")
		}
	}
}
