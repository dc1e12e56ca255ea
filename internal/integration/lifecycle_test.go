package integration

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorsync/pkg/types"
)

func TestSessionLifecycle(t *testing.T) {
	s := startStack(t)

	mentorID := uuid.NewString()
	studentID := uuid.NewString()
	outsiderID := uuid.NewString()

	mentorToken := accessToken(t, mentorID, "Maya", types.RoleMentor)
	studentToken := accessToken(t, studentID, "Sam", types.RoleStudent)
	outsiderToken := accessToken(t, outsiderID, "Olga", types.RoleStudent)

	// Create the session over REST.
	status, res := s.do(t, http.MethodPost, "/api/sessions", mentorToken,
		`{"title":"Graph algorithms","participant_ids":["`+studentID+`"]}`)
	require.Equal(t, http.StatusCreated, status, res.Raw)
	sessionID := res.Get("data.session.id").String()
	require.NotEmpty(t, sessionID)
	assert.Len(t, res.Get("data.session.participants").Array(), 2)

	status, _ = s.do(t, http.MethodPost, "/api/sessions", studentToken,
		`{"title":"Not allowed","participant_ids":["`+mentorID+`"]}`)
	assert.Equal(t, http.StatusForbidden, status)

	status, res = s.do(t, http.MethodGet, "/api/sessions", studentToken, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, sessionID, res.Get("data.sessions.0.id").String())

	status, _ = s.do(t, http.MethodGet, "/api/sessions/"+sessionID, outsiderToken, "")
	assert.Equal(t, http.StatusForbidden, status)

	// Both participants join the room.
	mentor := s.connect(t, mentorToken)
	student := s.connect(t, studentToken)

	mentor.send(types.EventJoin, 1, `{"sessionId":"`+sessionID+`"}`)
	assert.Equal(t, sessionID, mentor.expect(types.EventJoined).Get("sessionId").String())
	assert.True(t, mentor.ack(1).Get("ok").Bool())

	student.send(types.EventJoin, 1, `{"sessionId":"`+sessionID+`"}`)
	student.expect(types.EventJoined)
	assert.True(t, student.ack(1).Get("ok").Bool())

	status, res = s.do(t, http.MethodGet, "/api/sessions/"+sessionID, mentorToken, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, res.Get("data.connection_count").Int())

	// Outsiders are turned away but stay connected.
	outsider := s.connect(t, outsiderToken)
	outsider.send(types.EventJoin, 7, `{"sessionId":"`+sessionID+`"}`)
	ack := outsider.ack(7)
	assert.False(t, ack.Get("ok").Bool())
	assert.Equal(t, types.MsgNotParticipant, ack.Get("message").String())
	outsider.send(types.EventChatMessage, 8, `{"text":"let me in"}`)
	assert.Equal(t, types.MsgJoinBeforeChat, outsider.ack(8).Get("message").String())

	// Chat reaches the whole room, sender included.
	mentor.send(types.EventChatMessage, 2, `{"text":"Welcome!"}`)
	chat := mentor.expect(types.EventChatMessage)
	assert.Equal(t, "Welcome!", chat.Get("text").String())
	assert.Equal(t, mentorID, chat.Get("author.id").String())
	assert.Equal(t, "Maya", chat.Get("author.name").String())
	assert.True(t, mentor.ack(2).Get("ok").Bool())
	assert.Equal(t, chat.Get("id").String(), student.expect(types.EventChatMessage).Get("id").String())

	// Code updates skip the author.
	student.send(types.EventCodeUpdate, 2, `{"code":"print(1)","language":"python"}`)
	assert.True(t, student.ack(2).Get("ok").Bool())
	code := mentor.expect(types.EventCodeUpdate)
	assert.Equal(t, "print(1)", code.Get("code").String())
	assert.Equal(t, "python", code.Get("language").String())
	assert.Equal(t, studentID, code.Get("authorId").String())

	// The REST fallback broadcasts like the live path.
	status, _ = s.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages", studentToken, `{"message":"from REST"}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "from REST", mentor.expect(types.EventChatMessage).Get("text").String())
	// The author is a room member too.
	assert.Equal(t, "from REST", student.expect(types.EventChatMessage).Get("text").String())

	status, _ = s.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/code", outsiderToken, `{"code":"x"}`)
	assert.Equal(t, http.StatusForbidden, status)

	assert.Equal(t, 2, s.count(t, "session_messages", sessionID))
	assert.Equal(t, 1, s.count(t, "session_code_snapshots", sessionID))
}

func TestRejectedCredentialClosesSocket(t *testing.T) {
	s := startStack(t)

	u := "ws://" + s.base + "/ws?token=not-a-jwt"
	ws, _, err := dialer.Dial(u, nil)
	require.NoError(t, err)
	defer ws.Close()

	c := &client{t: t, ws: ws}
	assert.Equal(t, types.MsgInvalidToken, c.expect(types.EventError).Get("message").String())

	_, _, err = ws.ReadMessage()
	require.Error(t, err)
}
