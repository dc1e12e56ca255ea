// Package session implements the REST-facing session service. Messages and code
// snapshots posted here go through the same membership check and event store as
// the live gateway and are then fanned out to the live room.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// Store is the persistence the session service needs.
type Store interface {
	interfaces.SessionStore
	interfaces.EventStore
}

// Broadcaster delivers records persisted here to live room members.
type Broadcaster interface {
	BroadcastChat(msg *types.ChatMessage) int
	BroadcastCode(snap *types.CodeSnapshot) int
}

type Limits struct {
	MaxChatLength     int
	MaxLanguageLength int
}

// Manager implements interfaces.SessionService.
type Manager struct {
	store       Store
	directory   interfaces.ParticipantDirectory
	broadcaster Broadcaster
	limits      Limits
	log         *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewManager(store Store, directory interfaces.ParticipantDirectory, broadcaster Broadcaster, limits Limits, log *zap.Logger) *Manager {
	return &Manager{
		store:       store,
		directory:   directory,
		broadcaster: broadcaster,
		limits:      limits,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

var _ interfaces.SessionService = (*Manager)(nil)

func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*types.Session, error) {
	sessions, err := m.store.ListSessionsForUser(ctx, userID)
	if err != nil {
		return nil, types.NewInternalError(msgLoadSessionsFailed, err)
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	return sessions, nil
}

// CreateSession is restricted to mentors. The creator is enrolled as mentor and
// every other listed user as a student.
func (m *Manager) CreateSession(ctx context.Context, creator *types.Identity, in types.CreateSessionInput) (*types.Session, error) {
	if creator == nil || creator.Role != types.RoleMentor {
		return nil, types.NewAuthorizationError(types.MsgMentorOnly, nil)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	students := make([]string, 0, len(in.ParticipantIDs))
	for _, id := range removeDuplicates(in.ParticipantIDs) {
		if id != creator.UserID {
			students = append(students, id)
		}
	}
	if len(students) == 0 {
		return nil, types.NewValidationError(msgNoStudents)
	}

	now := m.now()
	s := &types.Session{
		ID:              m.newID(),
		Title:           in.Title,
		Status:          types.SessionStatusScheduled,
		DurationMinutes: in.DurationMinutes,
		CreatedBy:       creator.UserID,
		CreatedAt:       now,
	}
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		s.ScheduledAt = &at
	}

	s.Participants = append(s.Participants, &types.Participant{
		ID: m.newID(), SessionID: s.ID, UserID: creator.UserID, Role: types.RoleMentor, JoinedAt: now,
	})
	for _, id := range students {
		s.Participants = append(s.Participants, &types.Participant{
			ID: m.newID(), SessionID: s.ID, UserID: id, Role: types.RoleStudent, JoinedAt: now,
		})
	}

	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, types.NewPersistenceError(msgCreateSessionFailed, err)
	}

	m.log.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("created_by", creator.UserID),
		zap.Int("students", len(students)))
	return s, nil
}

// GetForUser returns the session with its roster when userID is enrolled.
func (m *Manager) GetForUser(ctx context.Context, userID, sessionID string) (*types.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, types.NewNotFoundError(types.MsgSessionNotFound)
		}
		return nil, types.NewInternalError(msgLoadSessionFailed, err)
	}
	for _, p := range s.Participants {
		if p.UserID == userID {
			return s, nil
		}
	}
	return nil, types.NewAuthorizationError(types.MsgNotParticipant, nil)
}

func (m *Manager) AddMessage(ctx context.Context, author *types.Identity, sessionID, text string) (*types.ChatMessage, error) {
	content, err := types.ValidateChatText(text, m.limits.MaxChatLength)
	if err != nil {
		return nil, err
	}
	if err := m.requireParticipant(ctx, author.UserID, sessionID); err != nil {
		return nil, err
	}

	msg := &types.ChatMessage{
		ID:         m.newID(),
		SessionID:  sessionID,
		AuthorID:   author.UserID,
		AuthorName: author.DisplayName(),
		Content:    content,
		CreatedAt:  m.now(),
	}
	if err := m.store.AppendChatMessage(ctx, msg); err != nil {
		return nil, types.NewPersistenceError(types.MsgStoreMessageFailed, err)
	}

	delivered := m.broadcaster.BroadcastChat(msg)
	m.log.Debug("message posted over REST",
		zap.String("session_id", sessionID),
		zap.String("message_id", msg.ID),
		zap.Int("delivered", delivered))
	return msg, nil
}

func (m *Manager) AddCodeSnapshot(ctx context.Context, author *types.Identity, sessionID, code, language string) (*types.CodeSnapshot, error) {
	if code == "" {
		return nil, types.NewValidationError(types.MsgCodeRequired)
	}
	lang, err := types.NormalizeLanguage(language, m.limits.MaxLanguageLength)
	if err != nil {
		return nil, err
	}
	if err := m.requireParticipant(ctx, author.UserID, sessionID); err != nil {
		return nil, err
	}

	snap := &types.CodeSnapshot{
		ID:        m.newID(),
		SessionID: sessionID,
		AuthorID:  author.UserID,
		Language:  lang,
		Code:      code,
		CreatedAt: m.now(),
	}
	if err := m.store.AppendCodeSnapshot(ctx, snap); err != nil {
		return nil, types.NewPersistenceError(types.MsgStoreSnapshotFailed, err)
	}

	m.broadcaster.BroadcastCode(snap)
	return snap, nil
}

func (m *Manager) requireParticipant(ctx context.Context, userID, sessionID string) error {
	ok, err := m.directory.IsAuthorizedParticipant(ctx, userID, sessionID)
	if err != nil {
		return types.NewInternalError(msgAccessCheckFailed, err)
	}
	if !ok {
		return types.NewAuthorizationError(types.MsgNotParticipant, nil)
	}
	return nil
}

// removeDuplicates keeps the first occurrence of each id.
func removeDuplicates(ids []string) []string {
	seen := make(map[string]bool)
	unique := make([]string, 0, len(ids))

	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	return unique
}
