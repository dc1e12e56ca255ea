package interfaces

import "errors"

// Common errors returned by store implementations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrStoreClosed     = errors.New("store is closed")
)
