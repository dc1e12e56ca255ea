// Package websocket carries the realtime gateway over gorilla websockets: the
// upgrade and credential handshake, the per-connection read loop, and the
// single-writer connection wrapper.
package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mentorsync/internal/config"
	"mentorsync/internal/gateway"
	"mentorsync/pkg/types"
)

const msgAuthFailed = "Unable to authenticate connection"

type Options struct {
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	MaxMessageBytes  int64
	AllowedOrigins   []string
}

func OptionsFromConfig(cfg *config.WebSocketConfig) Options {
	return Options{
		PingInterval:     cfg.PingInterval,
		PongWait:         cfg.PongWait,
		WriteTimeout:     cfg.WriteTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		SendBuffer:       cfg.SendBuffer,
		MaxMessageBytes:  cfg.MaxMessageBytes,
		AllowedOrigins:   cfg.AllowedOrigins,
	}
}

// Handler upgrades HTTP requests and runs one connection per request until the
// peer goes away or Shutdown is called.
type Handler struct {
	gateway  *gateway.Gateway
	opts     Options
	log      *zap.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
}

func NewHandler(gw *gateway.Gateway, opts Options, log *zap.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		gateway: gw,
		opts:    opts,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: opts.HandshakeTimeout,
		CheckOrigin:      originChecker(opts.AllowedOrigins),
	}
	return h
}

// Active reports the number of open connections.
func (h *Handler) Active() int64 { return h.active.Load() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, ErrHandlerClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	credential := credentialFromRequest(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	h.wg.Add(1)
	h.active.Add(1)
	defer func() {
		h.active.Add(-1)
		h.wg.Done()
	}()

	ws.SetReadLimit(h.opts.MaxMessageBytes)
	conn := NewConnection(h.ctx, ws, h.opts, h.log)
	client := gateway.NewClient(conn)
	defer func() {
		h.gateway.Disconnect(client)
		_ = conn.Close()
	}()

	if !h.handshake(conn, client, credential) {
		return
	}
	conn.start()
	h.readLoop(conn, client)
}

// handshake authenticates the connection from the request credential or, when
// there is none, from a first auth frame read within HandshakeTimeout.
func (h *Handler) handshake(conn *Connection, client *gateway.Client, credential string) bool {
	ctx, cancel := context.WithTimeout(conn.Context(), h.opts.HandshakeTimeout)
	defer cancel()

	var ackID interface{}
	if credential == "" {
		// The read loop is not running yet, so nothing else unblocks this read
		// when the handler shuts down.
		stop := context.AfterFunc(conn.Context(), func() {
			_ = conn.closeWith(websocket.CloseGoingAway, "")
		})
		_ = conn.ws.SetReadDeadline(time.Now().Add(h.opts.HandshakeTimeout))
		_, raw, err := conn.ws.ReadMessage()
		stop()
		if err != nil {
			if isTimeout(err) {
				conn.reject(nil, types.MsgMissingToken)
			}
			return false
		}

		frame, err := parseFrame(raw)
		if err != nil || frame.Event != types.EventAuth {
			var id interface{}
			if frame.wantsAck() {
				id = frame.Ack
			}
			conn.reject(id, types.MsgMissingToken)
			return false
		}
		ackID = frame.Ack

		var p types.AuthPayload
		if len(frame.Data) > 0 {
			if err := sonic.Unmarshal(frame.Data, &p); err != nil {
				conn.reject(ackID, types.MsgMissingToken)
				return false
			}
		}
		credential = p.Token
	}

	identity, err := h.gateway.Authenticate(ctx, client, credential)
	if err != nil {
		if errors.Is(err, gateway.ErrClientClosed) {
			return false
		}
		message := types.PublicMessage(err, msgAuthFailed)
		h.log.Info("websocket authentication rejected",
			zap.String("conn_id", conn.ID()),
			zap.String("reason", message),
			zap.Error(err))
		conn.reject(ackID, message)
		return false
	}

	if ackID != nil {
		_ = conn.sendAck(ackID, types.Ack{OK: true})
	}
	h.log.Info("websocket connected",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", identity.UserID))
	return true
}

// readLoop processes frames one at a time until the socket fails.
func (h *Handler) readLoop(conn *Connection, client *gateway.Client) {
	ws := conn.ws
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		messageType, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Info("websocket closed unexpectedly", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := parseFrame(raw)
		if err != nil {
			_ = conn.Emit(types.EventError, types.ErrorPayload{Message: msgMalformedFrame})
			continue
		}

		var respond gateway.Responder
		if frame.wantsAck() {
			id := frame.Ack
			respond = func(ack types.Ack) { _ = conn.sendAck(id, ack) }
		}
		h.gateway.HandleEvent(conn.Context(), client, frame.Event, frame.Data, respond)
	}
}

// Shutdown closes every open connection with a going-away frame and waits for
// their handlers to finish or ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// credentialFromRequest prefers the Authorization header over the token query
// parameter.
func credentialFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
