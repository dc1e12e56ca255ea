package types

// Event names on the realtime channel.
const (
	EventAuth          = "auth"
	EventAuthenticated = "session:authenticated"
	EventJoin          = "session:join"
	EventJoined        = "session:joined"
	EventChatMessage   = "chat:message"
	EventCodeUpdate    = "code:update"
	EventError         = "session:error"
	EventAck           = "ack"
)

// Ack answers a single client event.
type Ack struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type JoinPayload struct {
	SessionID string `json:"sessionId"`
}

type ChatPayload struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
	Time string `json:"time,omitempty"`
}

type CodePayload struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

type AuthenticatedPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role,omitempty"`
}

type JoinedPayload struct {
	SessionID string `json:"sessionId"`
}

type ChatAuthor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChatBroadcast is delivered to every member of the room, sender included.
type ChatBroadcast struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Time      string     `json:"time"`
	Author    ChatAuthor `json:"author"`
	SessionID string     `json:"sessionId"`
}

// CodeBroadcast is delivered to every member of the room except the author.
type CodeBroadcast struct {
	Code      string `json:"code"`
	Language  string `json:"language"`
	SessionID string `json:"sessionId"`
	AuthorID  string `json:"authorId"`
	UpdatedAt string `json:"updatedAt"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
