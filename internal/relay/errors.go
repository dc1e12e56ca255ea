package relay

import "errors"

var (
	ErrRelayNotRunning     = errors.New("relay is not running")
	ErrRelayAlreadyRunning = errors.New("relay is already running")
	ErrRelayQueueFull      = errors.New("relay queue is full")
)
