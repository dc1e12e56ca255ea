package interfaces

import (
	"context"

	"mentorsync/pkg/types"
)

// SessionService is the REST-facing session API. It applies the same membership
// rule and writes through the same EventStore as the live gateway.
type SessionService interface {
	ListForUser(ctx context.Context, userID string) ([]*types.Session, error)
	CreateSession(ctx context.Context, creator *types.Identity, in types.CreateSessionInput) (*types.Session, error)
	GetForUser(ctx context.Context, userID, sessionID string) (*types.Session, error)
	AddMessage(ctx context.Context, author *types.Identity, sessionID, text string) (*types.ChatMessage, error)
	AddCodeSnapshot(ctx context.Context, author *types.Identity, sessionID, code, language string) (*types.CodeSnapshot, error)
}

// RateLimiter admits or rejects one event for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// EventSink receives persisted session events for out-of-process consumers.
// Publish must not block the caller.
type EventSink interface {
	Publish(evt *types.SessionEvent) error
}
