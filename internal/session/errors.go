package session

// REST-only user-facing messages.
const (
	msgLoadSessionsFailed  = "Unable to load sessions"
	msgLoadSessionFailed   = "Unable to load session"
	msgCreateSessionFailed = "Unable to create session"
	msgNoStudents          = "At least one participant other than the creator is required"
	msgAccessCheckFailed   = "Unable to verify session access"
)
