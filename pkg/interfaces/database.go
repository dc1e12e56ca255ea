package interfaces

import (
	"context"

	"mentorsync/pkg/types"
)

// EventStore is the durable append-only sink for live session events. The live
// path never reads these rows back.
type EventStore interface {
	AppendChatMessage(ctx context.Context, msg *types.ChatMessage) error
	AppendCodeSnapshot(ctx context.Context, snap *types.CodeSnapshot) error
}

// ParticipantStore answers membership and profile lookups for the directory.
type ParticipantStore interface {
	// IsParticipant reports whether userID holds a session_participants row for sessionID.
	IsParticipant(ctx context.Context, sessionID, userID string) (bool, error)

	// GetProfile returns ErrProfileNotFound when the user has no profile row.
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)
}

// SessionStore backs the REST session endpoints.
type SessionStore interface {
	// CreateSession inserts the session and its participants atomically.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession returns ErrSessionNotFound when no row exists.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// ListSessionsForUser returns every session userID participates in, ordered by
	// scheduled_at ascending with unscheduled sessions first.
	ListSessionsForUser(ctx context.Context, userID string) ([]*types.Session, error)
}

// Store is the full persistence surface implemented by the sqlite manager and the
// postgres repository.
type Store interface {
	EventStore
	ParticipantStore
	SessionStore

	HealthCheck(ctx context.Context) error
	Close() error
}
