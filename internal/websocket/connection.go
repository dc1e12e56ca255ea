package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mentorsync/pkg/types"
)

// enqueueTimeout bounds how long a broadcaster waits on a full send buffer
// before the connection is treated as a slow consumer and closed.
const enqueueTimeout = 500 * time.Millisecond

// Connection implements interfaces.Connection over a gorilla websocket.
// All data frames and pings go through one writer goroutine.
type Connection struct {
	id      string
	ws      *websocket.Conn
	writeCh chan []byte
	opts    Options
	log     *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps ws. The connection context is derived from parent, so
// cancelling parent shuts the connection down with a going-away close frame.
// The writer is not running until start is called.
func NewConnection(parent context.Context, ws *websocket.Conn, opts Options, log *zap.Logger) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		id:      uuid.NewString(),
		ws:      ws,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Connection) ID() string { return c.id }

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context { return c.ctx }

// Emit queues {"event","data"} for delivery.
func (c *Connection) Emit(event string, payload interface{}) error {
	data, err := sonic.Marshal(eventFrame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return c.enqueue(data)
}

func (c *Connection) sendAck(id interface{}, ack types.Ack) error {
	data, err := sonic.Marshal(newAckFrame(id, ack))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return c.enqueue(data)
}

func (c *Connection) enqueue(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
	}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-timer.C:
		c.log.Warn("send buffer full, closing slow connection", zap.String("conn_id", c.id))
		_ = c.Close()
		return ErrWriteTimeout
	}
}

// start runs the writer. It returns immediately.
func (c *Connection) start() {
	go c.writeLoop()
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.log.Debug("websocket write failed", zap.String("conn_id", c.id), zap.Error(err))
				_ = c.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			// Parent cancellation means the server is stopping.
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// reject writes the optional negative ack and a session:error frame directly
// to the socket, then closes with a policy violation. It must only be used
// before start.
func (c *Connection) reject(ackID interface{}, message string) {
	if ackID != nil {
		if data, err := sonic.Marshal(newAckFrame(ackID, types.Ack{OK: false, Message: message})); err == nil {
			_ = c.write(websocket.TextMessage, data)
		}
	}
	if data, err := sonic.Marshal(eventFrame{Event: types.EventError, Data: types.ErrorPayload{Message: message}}); err == nil {
		_ = c.write(websocket.TextMessage, data)
	}
	c.closeWith(websocket.ClosePolicyViolation, message)
}

// Close sends a normal close frame and releases the socket. It is idempotent.
func (c *Connection) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Connection) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.cancel()
		err = c.ws.Close()
	})
	return err
}
