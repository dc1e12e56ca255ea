package repo

import (
	"time"

	"mentorsync/pkg/types"
)

type Profile struct {
	ID        string    `gorm:"type:text;primaryKey"`
	Name      string    `gorm:"type:text;not null;default:''"`
	Email     string    `gorm:"type:text;not null;default:''"`
	Role      *string   `gorm:"type:text;check:chk_profile_role,role IS NULL OR role IN ('mentor','student')"`
	CreatedAt time.Time `gorm:"autoCreateTime;not null;default:CURRENT_TIMESTAMP"`
}

func (Profile) TableName() string { return "profiles" }

type Session struct {
	ID              string     `gorm:"type:text;primaryKey"`
	Title           string     `gorm:"type:text;not null"`
	Status          string     `gorm:"type:text;not null;default:scheduled;check:chk_session_status,status IN ('scheduled','live','completed')"`
	ScheduledAt     *time.Time `gorm:"index:idx_sessions_scheduled_at"`
	DurationMinutes *int       `gorm:"check:chk_session_duration,duration_minutes IS NULL OR (duration_minutes > 0 AND duration_minutes <= 600)"`
	CreatedBy       string     `gorm:"type:text;not null"`
	Summary         *string    `gorm:"type:text"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;not null;default:CURRENT_TIMESTAMP"`

	Participants []Participant `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;"`
}

func (Session) TableName() string { return "mentorship_sessions" }

type Participant struct {
	ID        string    `gorm:"type:text;primaryKey"`
	SessionID string    `gorm:"type:text;not null;uniqueIndex:uq_participant_session_user,priority:1"`
	UserID    string    `gorm:"type:text;not null;uniqueIndex:uq_participant_session_user,priority:2;index:idx_participants_user"`
	Role      string    `gorm:"type:text;not null;check:chk_participant_role,role IN ('mentor','student')"`
	JoinedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Participant) TableName() string { return "session_participants" }

type Message struct {
	ID        string    `gorm:"type:text;primaryKey"`
	SessionID string    `gorm:"type:text;not null;index:idx_messages_session_time,priority:1"`
	AuthorID  string    `gorm:"type:text;not null"`
	Content   string    `gorm:"type:text;not null;check:chk_message_content,length(content) > 0"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_messages_session_time,priority:2"`

	Session *Session `gorm:"foreignKey:SessionID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;"`
}

func (Message) TableName() string { return "session_messages" }

type CodeSnapshot struct {
	ID        string    `gorm:"type:text;primaryKey"`
	SessionID string    `gorm:"type:text;not null;index:idx_snapshots_session_time,priority:1"`
	AuthorID  string    `gorm:"type:text;not null"`
	Language  string    `gorm:"type:text;not null;default:javascript"`
	Code      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_snapshots_session_time,priority:2"`

	Session *Session `gorm:"foreignKey:SessionID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;"`
}

func (CodeSnapshot) TableName() string { return "session_code_snapshots" }

// Models lists every table in dependency order for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&Profile{},
		&Session{},
		&Participant{},
		&Message{},
		&CodeSnapshot{},
	}
}

func sessionFromType(s *types.Session) *Session {
	m := &Session{
		ID:              s.ID,
		Title:           s.Title,
		Status:          s.Status,
		ScheduledAt:     s.ScheduledAt,
		DurationMinutes: s.DurationMinutes,
		CreatedBy:       s.CreatedBy,
		Summary:         s.Summary,
		CreatedAt:       s.CreatedAt,
	}
	for _, p := range s.Participants {
		m.Participants = append(m.Participants, Participant{
			ID:        p.ID,
			SessionID: s.ID,
			UserID:    p.UserID,
			Role:      string(p.Role),
			JoinedAt:  p.JoinedAt,
		})
	}
	return m
}

func (m *Session) toType() *types.Session {
	s := &types.Session{
		ID:              m.ID,
		Title:           m.Title,
		Status:          m.Status,
		ScheduledAt:     m.ScheduledAt,
		DurationMinutes: m.DurationMinutes,
		CreatedBy:       m.CreatedBy,
		Summary:         m.Summary,
		CreatedAt:       m.CreatedAt.UTC(),
		Participants:    make([]*types.Participant, 0, len(m.Participants)),
	}
	for _, p := range m.Participants {
		s.Participants = append(s.Participants, &types.Participant{
			ID:        p.ID,
			SessionID: p.SessionID,
			UserID:    p.UserID,
			Role:      types.Role(p.Role),
			JoinedAt:  p.JoinedAt.UTC(),
		})
	}
	return s
}

func (m *Profile) toType() *types.Profile {
	p := &types.Profile{ID: m.ID, Name: m.Name, Email: m.Email}
	if m.Role != nil {
		p.Role = types.ParseRole(*m.Role)
	}
	return p
}
