package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that cross a component boundary. The kind decides
// what the caller sees; the wrapped cause is only ever logged.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuth
	KindAuthorization
	KindNotFound
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Error is a classified failure with a message that is safe to show to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NewAuthError(msg string, cause error) error {
	return &Error{Kind: KindAuth, Message: msg, Err: cause}
}

func NewAuthorizationError(msg string, cause error) error {
	return &Error{Kind: KindAuthorization, Message: msg, Err: cause}
}

func NewNotFoundError(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func NewPersistenceError(msg string, cause error) error {
	return &Error{Kind: KindPersistence, Message: msg, Err: cause}
}

func NewInternalError(msg string, cause error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: cause}
}

// KindOf reports the kind of err. Errors that were never classified are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the client-facing text for err. Internal errors always
// collapse to fallback so store or driver details never leak.
func PublicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal && e.Message != "" {
		return e.Message
	}
	return fallback
}

// User-facing messages shared by the live and REST paths.
const (
	MsgMissingToken        = "Missing authentication token"
	MsgInvalidToken        = "Invalid or expired authentication token"
	MsgAuthTimeout         = "Authentication timed out"
	MsgSessionIDRequired   = "sessionId is required"
	MsgNotParticipant      = "You are not a participant in this session"
	MsgAccessCheckTimeout  = "Unable to verify session access in time"
	MsgJoinBeforeChat      = "Join a session before sending messages"
	MsgJoinBeforeCode      = "Join a session before sharing code"
	MsgTextRequired        = "Message text is required"
	MsgCodeRequired        = "Code content is required"
	MsgRateLimited         = "You are sending messages too quickly"
	MsgStoreMessageFailed  = "Unable to store message"
	MsgStoreSnapshotFailed = "Unable to store code snapshot"
	MsgSessionNotFound     = "Session not found"
	MsgMentorOnly          = "Only mentors can create sessions"
	MsgUnexpected          = "Unexpected server error"
)
