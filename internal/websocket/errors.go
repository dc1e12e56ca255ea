package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Frame errors
var (
	ErrInvalidFrame = errors.New("frame is not a JSON object")
	ErrMissingEvent = errors.New("frame has no event name")
)

// ErrHandlerClosed is returned for upgrades attempted after Shutdown.
var ErrHandlerClosed = errors.New("websocket handler is shut down")
