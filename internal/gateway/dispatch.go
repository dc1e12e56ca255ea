package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"mentorsync/pkg/types"
)

// Responder delivers the ack for one client event.
type Responder func(types.Ack)

// HandleEvent is the per-event boundary. It decodes data, runs the operation
// and turns every failure, panics included, into a negative Ack plus a
// session:error event to the caller. Nothing escapes to the connection loop.
//
// respond, when set, receives the ack before the session:joined or
// session:error follow-up is emitted. Room broadcasts happen during the
// operation and so precede the ack.
func (g *Gateway) HandleEvent(ctx context.Context, c *Client, event string, data []byte, respond Responder) (ack types.Ack) {
	var followUp func()
	defer func() {
		if r := recover(); r != nil {
			err := types.NewInternalError(fallbackMessage(event), fmt.Errorf("panic: %v", r))
			ack, followUp = g.fail(c, event, err)
		}
		if respond != nil {
			respond(ack)
		}
		if followUp != nil {
			followUp()
		}
	}()

	followUp, err := g.dispatch(ctx, c, event, data)
	if err != nil {
		ack, followUp = g.fail(c, event, err)
		return ack
	}
	return types.Ack{OK: true}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, event string, data []byte) (func(), error) {
	switch event {
	case types.EventAuth:
		var p types.AuthPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		_, err := g.Authenticate(ctx, c, p.Token)
		return nil, err

	case types.EventJoin:
		var p types.JoinPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		sessionID, err := g.join(ctx, c, p.SessionID)
		if err != nil {
			return nil, err
		}
		return func() { g.emitJoined(c, sessionID) }, nil

	case types.EventChatMessage:
		var p types.ChatPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		_, err := g.SendChat(ctx, c, p)
		return nil, err

	case types.EventCodeUpdate:
		var p types.CodePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		_, err := g.SendCodeUpdate(ctx, c, p)
		return nil, err

	default:
		return nil, types.NewValidationError(msgUnsupportedEvent)
	}
}

func decode(data []byte, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return types.NewValidationError(msgInvalidPayload)
	}
	return nil
}

// fail logs err at a level that matches its kind and returns the negative ack
// with the session:error emit that follows it. Stale results from closed
// clients are dropped silently.
func (g *Gateway) fail(c *Client, event string, err error) (types.Ack, func()) {
	if errors.Is(err, ErrClientClosed) {
		return types.Ack{OK: false}, nil
	}

	message := types.PublicMessage(err, fallbackMessage(event))

	fields := []zap.Field{
		zap.String("conn_id", c.ID()),
		zap.String("event", event),
		zap.String("kind", types.KindOf(err).String()),
		zap.Error(err),
	}
	if identity := c.Identity(); identity != nil {
		fields = append(fields, zap.String("user_id", identity.UserID))
	}
	switch types.KindOf(err) {
	case types.KindInternal, types.KindPersistence:
		g.log.Error("event failed", fields...)
	default:
		g.log.Info("event rejected", fields...)
	}

	return types.Ack{OK: false, Message: message}, func() {
		g.emit(c, types.EventError, types.ErrorPayload{Message: message})
	}
}
