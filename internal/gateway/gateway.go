// Package gateway is the realtime core: it owns each connection's lifecycle,
// admits callers through the participant directory and turns chat and code
// events into a persisted record followed by a room broadcast.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorsync/internal/config"
	"mentorsync/internal/room"
	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// isoMillis matches the timestamp shape browsers produce with toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

const maxClientMessageID = 128

type Options struct {
	VerifyTimeout     time.Duration
	AuthorizeTimeout  time.Duration
	PersistTimeout    time.Duration
	MaxChatLength     int
	MaxLanguageLength int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		VerifyTimeout:     cfg.Auth.VerifyTimeout,
		AuthorizeTimeout:  cfg.Session.AuthorizeTimeout,
		PersistTimeout:    cfg.Session.PersistTimeout,
		MaxChatLength:     cfg.Session.MaxChatLength,
		MaxLanguageLength: cfg.Session.MaxLanguageLength,
	}
}

type Gateway struct {
	directory interfaces.ParticipantDirectory
	store     interfaces.EventStore
	rooms     *room.Registry
	limiter   interfaces.RateLimiter
	sink      interfaces.EventSink
	opts      Options
	log       *zap.Logger

	now   func() time.Time
	newID func() string
}

func New(
	directory interfaces.ParticipantDirectory,
	store interfaces.EventStore,
	rooms *room.Registry,
	limiter interfaces.RateLimiter,
	sink interfaces.EventSink,
	opts Options,
	log *zap.Logger,
) *Gateway {
	return &Gateway{
		directory: directory,
		store:     store,
		rooms:     rooms,
		limiter:   limiter,
		sink:      sink,
		opts:      opts,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Authenticate moves c from Connecting to Authenticated and sends
// session:authenticated. Calling it on an already authenticated client returns
// the existing identity without touching the directory.
func (g *Gateway) Authenticate(ctx context.Context, c *Client, credential string) (*types.Identity, error) {
	state, identity, _ := c.snapshot()
	switch state {
	case StateAuthenticated, StateJoined:
		return identity, nil
	case StateClosed:
		return nil, ErrClientClosed
	}

	vctx, cancel := context.WithTimeout(ctx, g.opts.VerifyTimeout)
	defer cancel()

	identity, err := g.directory.VerifyCredential(vctx, credential)
	if err != nil {
		if isTimeout(vctx, err) {
			return nil, types.NewAuthError(types.MsgAuthTimeout, err)
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ErrClientClosed
		}
		return nil, err
	}

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return nil, ErrClientClosed
	case StateAuthenticated, StateJoined:
		existing := c.identity
		c.mu.Unlock()
		return existing, nil
	}
	c.identity = identity
	c.state = StateAuthenticated
	c.mu.Unlock()

	g.emit(c, types.EventAuthenticated, types.AuthenticatedPayload{
		UserID: identity.UserID,
		Name:   identity.DisplayName(),
		Role:   identity.Role,
	})
	return identity, nil
}

// Join moves c into sessionID's room, leaving any previous room first, and
// sends session:joined. On any failure the client's membership is unchanged.
func (g *Gateway) Join(ctx context.Context, c *Client, sessionID string) error {
	joined, err := g.join(ctx, c, sessionID)
	if err != nil {
		return err
	}
	g.emitJoined(c, joined)
	return nil
}

func (g *Gateway) emitJoined(c *Client, sessionID string) {
	g.emit(c, types.EventJoined, types.JoinedPayload{SessionID: sessionID})
}

// join performs the membership change and returns the trimmed session id.
func (g *Gateway) join(ctx context.Context, c *Client, sessionID string) (string, error) {
	state, identity, _ := c.snapshot()
	switch state {
	case StateConnecting:
		return "", types.NewAuthError(msgNotAuthenticated, nil)
	case StateClosed:
		return "", ErrClientClosed
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", types.NewValidationError(types.MsgSessionIDRequired)
	}

	if err := g.authorize(ctx, identity.UserID, sessionID); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return "", ErrClientClosed
	}
	if prev := c.sessionID; prev != "" && prev != sessionID {
		g.rooms.LeaveRoom(prev, c.ID())
	}
	g.rooms.JoinRoom(sessionID, c.conn)
	c.sessionID = sessionID
	c.state = StateJoined
	c.mu.Unlock()

	g.log.Info("client joined session",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", identity.UserID),
		zap.String("session_id", sessionID))

	return sessionID, nil
}

// SendChat persists a chat line and broadcasts it to the whole room, sender
// included.
func (g *Gateway) SendChat(ctx context.Context, c *Client, in types.ChatPayload) (*types.ChatBroadcast, error) {
	state, identity, sessionID := c.snapshot()
	if state == StateClosed {
		return nil, ErrClientClosed
	}
	if state != StateJoined {
		return nil, types.NewValidationError(types.MsgJoinBeforeChat)
	}

	text, err := types.ValidateChatText(in.Text, g.opts.MaxChatLength)
	if err != nil {
		return nil, err
	}

	if err := g.allow(ctx, identity.UserID); err != nil {
		return nil, err
	}

	if err := g.authorize(ctx, identity.UserID, sessionID); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, ErrClientClosed
	}

	msg := &types.ChatMessage{
		ID:         g.newID(),
		SessionID:  sessionID,
		AuthorID:   identity.UserID,
		AuthorName: identity.DisplayName(),
		Content:    text,
		CreatedAt:  g.now(),
	}
	if err := g.persist(ctx, func(ctx context.Context) error {
		return g.store.AppendChatMessage(ctx, msg)
	}); err != nil {
		return nil, types.NewPersistenceError(types.MsgStoreMessageFailed, err)
	}
	if c.isClosed() {
		return nil, ErrClientClosed
	}

	out := &types.ChatBroadcast{
		ID:        clientMessageID(in.ID, msg.ID),
		Text:      text,
		Time:      clientTime(in.Time, msg.CreatedAt),
		Author:    types.ChatAuthor{ID: identity.UserID, Name: identity.DisplayName()},
		SessionID: sessionID,
	}
	delivered := g.rooms.Broadcast(sessionID, types.EventChatMessage, out, "")

	g.log.Debug("chat message broadcast",
		zap.String("session_id", sessionID),
		zap.String("message_id", msg.ID),
		zap.Int("delivered", delivered))

	g.relay(&types.SessionEvent{
		Kind:       types.SessionEventChat,
		SessionID:  sessionID,
		AuthorID:   identity.UserID,
		RecordID:   msg.ID,
		Size:       len(text),
		OccurredAt: msg.CreatedAt,
	})
	return out, nil
}

// SendCodeUpdate persists a full buffer snapshot and broadcasts it to every room
// member except the sender.
func (g *Gateway) SendCodeUpdate(ctx context.Context, c *Client, in types.CodePayload) (*types.CodeBroadcast, error) {
	state, identity, sessionID := c.snapshot()
	if state == StateClosed {
		return nil, ErrClientClosed
	}
	if state != StateJoined {
		return nil, types.NewValidationError(types.MsgJoinBeforeCode)
	}

	if in.Code == "" {
		return nil, types.NewValidationError(types.MsgCodeRequired)
	}
	language, err := types.NormalizeLanguage(in.Language, g.opts.MaxLanguageLength)
	if err != nil {
		return nil, err
	}

	if err := g.authorize(ctx, identity.UserID, sessionID); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, ErrClientClosed
	}

	snap := &types.CodeSnapshot{
		ID:        g.newID(),
		SessionID: sessionID,
		AuthorID:  identity.UserID,
		Language:  language,
		Code:      in.Code,
		CreatedAt: g.now(),
	}
	if err := g.persist(ctx, func(ctx context.Context) error {
		return g.store.AppendCodeSnapshot(ctx, snap)
	}); err != nil {
		return nil, types.NewPersistenceError(types.MsgStoreSnapshotFailed, err)
	}
	if c.isClosed() {
		return nil, ErrClientClosed
	}

	out := &types.CodeBroadcast{
		Code:      in.Code,
		Language:  language,
		SessionID: sessionID,
		AuthorID:  identity.UserID,
		UpdatedAt: snap.CreatedAt.Format(isoMillis),
	}
	g.rooms.Broadcast(sessionID, types.EventCodeUpdate, out, c.ID())

	g.relay(&types.SessionEvent{
		Kind:       types.SessionEventCode,
		SessionID:  sessionID,
		AuthorID:   identity.UserID,
		RecordID:   snap.ID,
		Language:   language,
		Size:       len(in.Code),
		OccurredAt: snap.CreatedAt,
	})
	return out, nil
}

// Disconnect closes c and removes it from its room. It is safe to call more than
// once and on clients that never joined.
func (g *Gateway) Disconnect(c *Client) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.sessionID = ""
	identity := c.identity
	c.mu.Unlock()

	sessionID, _ := g.rooms.Remove(c.ID())

	fields := []zap.Field{zap.String("conn_id", c.ID())}
	if identity != nil {
		fields = append(fields, zap.String("user_id", identity.UserID))
	}
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	g.log.Info("client disconnected", fields...)
}

// BroadcastChat fans out a message that was persisted outside the live channel.
func (g *Gateway) BroadcastChat(msg *types.ChatMessage) int {
	out := &types.ChatBroadcast{
		ID:        msg.ID,
		Text:      msg.Content,
		Time:      msg.CreatedAt.UTC().Format(isoMillis),
		Author:    types.ChatAuthor{ID: msg.AuthorID, Name: msg.AuthorName},
		SessionID: msg.SessionID,
	}
	n := g.rooms.Broadcast(msg.SessionID, types.EventChatMessage, out, "")
	g.relay(&types.SessionEvent{
		Kind:       types.SessionEventChat,
		SessionID:  msg.SessionID,
		AuthorID:   msg.AuthorID,
		RecordID:   msg.ID,
		Size:       len(msg.Content),
		OccurredAt: msg.CreatedAt,
	})
	return n
}

// BroadcastCode fans out a snapshot that was persisted outside the live channel.
// There is no live sender to exclude.
func (g *Gateway) BroadcastCode(snap *types.CodeSnapshot) int {
	out := &types.CodeBroadcast{
		Code:      snap.Code,
		Language:  snap.Language,
		SessionID: snap.SessionID,
		AuthorID:  snap.AuthorID,
		UpdatedAt: snap.CreatedAt.UTC().Format(isoMillis),
	}
	n := g.rooms.Broadcast(snap.SessionID, types.EventCodeUpdate, out, "")
	g.relay(&types.SessionEvent{
		Kind:       types.SessionEventCode,
		SessionID:  snap.SessionID,
		AuthorID:   snap.AuthorID,
		RecordID:   snap.ID,
		Language:   snap.Language,
		Size:       len(snap.Code),
		OccurredAt: snap.CreatedAt,
	})
	return n
}

// authorize asks the directory whether userID is enrolled in sessionID within
// AuthorizeTimeout.
func (g *Gateway) authorize(ctx context.Context, userID, sessionID string) error {
	actx, cancel := context.WithTimeout(ctx, g.opts.AuthorizeTimeout)
	defer cancel()

	ok, err := g.directory.IsAuthorizedParticipant(actx, userID, sessionID)
	if err != nil {
		if isTimeout(actx, err) {
			return types.NewAuthorizationError(types.MsgAccessCheckTimeout, err)
		}
		if ctx.Err() != nil {
			return ErrClientClosed
		}
		return types.NewInternalError(msgAccessCheckFailed, err)
	}
	if !ok {
		return types.NewAuthorizationError(types.MsgNotParticipant, nil)
	}
	return nil
}

// allow applies the per-user rate limit. A limiter backend failure admits the
// event.
func (g *Gateway) allow(ctx context.Context, userID string) error {
	ok, err := g.limiter.Allow(ctx, userID)
	if err != nil {
		g.log.Warn("rate limiter unavailable", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if !ok {
		return types.NewValidationError(types.MsgRateLimited)
	}
	return nil
}

func (g *Gateway) persist(ctx context.Context, write func(context.Context) error) error {
	pctx, cancel := context.WithTimeout(ctx, g.opts.PersistTimeout)
	defer cancel()
	return write(pctx)
}

func (g *Gateway) relay(evt *types.SessionEvent) {
	if err := g.sink.Publish(evt); err != nil {
		g.log.Debug("session event not relayed",
			zap.String("kind", evt.Kind),
			zap.String("session_id", evt.SessionID),
			zap.Error(err))
	}
}

func (g *Gateway) emit(c *Client, event string, payload interface{}) {
	if err := c.conn.Emit(event, payload); err != nil {
		g.log.Debug("emit to client failed",
			zap.String("conn_id", c.ID()),
			zap.String("event", event),
			zap.Error(err))
	}
}

// isTimeout reports whether err came from ctx's own deadline.
func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func clientMessageID(clientID, storedID string) string {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" || len(clientID) > maxClientMessageID {
		return storedID
	}
	return clientID
}

// clientTime keeps a client-supplied RFC 3339 timestamp and otherwise uses the
// server's.
func clientTime(raw string, fallback time.Time) string {
	if raw != "" {
		if _, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return raw
		}
	}
	return fallback.Format(isoMillis)
}
