package types

import (
	"time"
)

// Role of a user within the platform or a single session.
type Role string

const (
	RoleMentor  Role = "mentor"
	RoleStudent Role = "student"
)

// ParseRole returns the role named by s, or "" when s is not a known role.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleMentor:
		return RoleMentor
	case RoleStudent:
		return RoleStudent
	default:
		return ""
	}
}

// Session status values as stored in mentorship_sessions.status.
const (
	SessionStatusScheduled = "scheduled"
	SessionStatusLive      = "live"
	SessionStatusCompleted = "completed"
)

// DefaultLanguage is recorded for code snapshots that name no language.
const DefaultLanguage = "javascript"

// Identity is the caller resolved from a bearer credential. It is fixed for the
// lifetime of a connection.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role,omitempty"`
}

// DisplayName prefers the profile name, then the email, then the raw id.
func (i *Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if i.Email != "" {
		return i.Email
	}
	return i.UserID
}

// Claims is what a token verifier learned about a user before role resolution.
type Claims struct {
	UserID       string
	Email        string
	UserMetadata map[string]interface{}
	AppMetadata  map[string]interface{}
}

// Session is a scheduled mentorship session with its participant roster.
type Session struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Status          string         `json:"status"`
	ScheduledAt     *time.Time     `json:"scheduled_at,omitempty"`
	DurationMinutes *int           `json:"duration_minutes,omitempty"`
	CreatedBy       string         `json:"created_by"`
	Summary         *string        `json:"summary,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Participants    []*Participant `json:"participants"`
}

// Participant enrols one user in one session.
type Participant struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Profile is the directory row consulted when token metadata carries no role.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// ChatMessage is one persisted chat line.
type ChatMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// CodeSnapshot is a full replacement of the shared buffer.
type CodeSnapshot struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	AuthorID  string    `json:"author_id"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSessionInput carries a session creation request after transport decoding.
type CreateSessionInput struct {
	Title           string     `json:"title" validate:"required,min=3,max=200"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty" validate:"omitempty,min=1,max=600"`
	ParticipantIDs  []string   `json:"participant_ids" validate:"required,min=1,dive,uuid"`
}

// SessionEvent is the envelope relayed to the message broker after an event has
// been persisted and fanned out.
type SessionEvent struct {
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id"`
	AuthorID   string    `json:"author_id"`
	RecordID   string    `json:"record_id"`
	Language   string    `json:"language,omitempty"`
	Size       int       `json:"size"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	SessionEventChat = "chat"
	SessionEventCode = "code"
)
