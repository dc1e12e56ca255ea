package gateway

import (
	"errors"

	"mentorsync/pkg/types"
)

// ErrClientClosed marks a result that arrived after the connection closed. It is
// never reported to the client.
var ErrClientClosed = errors.New("client is closed")

const (
	msgNotAuthenticated  = "Authenticate before joining a session"
	msgAccessCheckFailed = "Unable to verify session access"
	msgInvalidPayload    = "Invalid event payload"
	msgUnsupportedEvent  = "Unsupported event"

	msgJoinFailed = "Unable to join session"
	msgChatFailed = "Unable to send message"
	msgCodeFailed = "Unable to update code"
	msgAuthFailed = "Unable to authenticate connection"
)

// fallbackMessage is what the client sees for an internal failure of event.
func fallbackMessage(event string) string {
	switch event {
	case types.EventJoin:
		return msgJoinFailed
	case types.EventChatMessage:
		return msgChatFailed
	case types.EventCodeUpdate:
		return msgCodeFailed
	case types.EventAuth:
		return msgAuthFailed
	default:
		return types.MsgUnexpected
	}
}
