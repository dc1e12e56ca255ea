package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// Store is the postgres implementation of interfaces.Store.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table through AutoMigrate.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(Models()...)
}

func (s *Store) AppendChatMessage(ctx context.Context, msg *types.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&Message{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}).Error
}

func (s *Store) AppendCodeSnapshot(ctx context.Context, snap *types.CodeSnapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&CodeSnapshot{
		ID:        snap.ID,
		SessionID: snap.SessionID,
		AuthorID:  snap.AuthorID,
		Language:  snap.Language,
		Code:      snap.Code,
		CreatedAt: snap.CreatedAt,
	}).Error
}

func (s *Store) IsParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Participant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	var p Profile
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.toType(), nil
}

// UpsertProfile inserts or replaces a profile row.
func (s *Store) UpsertProfile(ctx context.Context, p *types.Profile) error {
	row := &Profile{ID: p.ID, Name: p.Name, Email: p.Email}
	if p.Role != "" {
		role := string(p.Role)
		row.Role = &role
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "role"}),
		}).
		Create(row).Error
}

// CreateSession inserts the session and its participants in one transaction.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	for _, p := range session.Participants {
		if p.JoinedAt.IsZero() {
			p.JoinedAt = session.CreatedAt
		}
	}
	row := sessionFromType(session)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
}

func orderedParticipants(db *gorm.DB) *gorm.DB {
	return db.Order("joined_at ASC").Order("user_id ASC")
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var row Session
	err := s.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Where("id = ?", sessionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toType(), nil
}

func (s *Store) ListSessionsForUser(ctx context.Context, userID string) ([]*types.Session, error) {
	var rows []Session
	err := s.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Joins("JOIN session_participants sp ON sp.session_id = mentorship_sessions.id").
		Where("sp.user_id = ?", userID).
		Order("mentorship_sessions.scheduled_at ASC NULLS FIRST").
		Order("mentorship_sessions.created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*types.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toType())
	}
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
