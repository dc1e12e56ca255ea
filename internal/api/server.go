// Package api is the companion REST surface: session listing and creation,
// session detail, and the non-realtime fallback for posting chat and code.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mentorsync/internal/room"
	"mentorsync/internal/telemetry"
	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// Rooms is the slice of the room registry the REST layer reads.
type Rooms interface {
	Stats() room.Stats
	MembersOf(sessionID string) []interfaces.Connection
}

// HealthChecker reports store reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Deps struct {
	ServiceName    string
	Tracing        bool
	AllowedOrigins []string
	WebSocketPath  string

	Sessions  interfaces.SessionService
	Directory interfaces.ParticipantDirectory
	Store     HealthChecker
	Rooms     Rooms
	WebSocket http.Handler
	Log       *zap.Logger
}

type Server struct {
	sessions interfaces.SessionService
	store    HealthChecker
	rooms    Rooms
	log      *zap.Logger
	engine   *gin.Engine
	started  time.Time
}

func NewServer(d Deps) *Server {
	s := &Server{
		sessions: d.Sessions,
		store:    d.Store,
		rooms:    d.Rooms,
		log:      d.Log,
		started:  time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if d.Tracing {
		r.Use(telemetry.GinMiddleware(d.ServiceName), telemetry.TraceIDMiddleware())
	}
	r.Use(ZapLogger(d.Log), CORS(d.AllowedOrigins))

	r.GET("/health", s.health)
	if d.WebSocket != nil {
		r.GET(d.WebSocketPath, gin.WrapH(d.WebSocket))
	}

	api := r.Group("/api", Auth(d.Directory))
	{
		api.GET("/sessions", s.listSessions)
		api.POST("/sessions", s.createSession)
		api.GET("/sessions/:id", s.getSession)
		api.POST("/sessions/:id/messages", s.postMessage)
		api.POST("/sessions/:id/code", s.postCode)
	}

	s.engine = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Rooms    int    `json:"rooms"`
	Members  int    `json:"members"`
	Uptime   string `json:"uptime"`
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stats := s.rooms.Stats()
	out := HealthResponse{
		Status:   "healthy",
		Database: "healthy",
		Rooms:    stats.Rooms,
		Members:  stats.Members,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	}

	if err := s.store.HealthCheck(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		out.Status = "unhealthy"
		out.Database = "unreachable"
		c.JSON(http.StatusServiceUnavailable, Response{Code: http.StatusServiceUnavailable, Data: out, Msg: "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, Response{Data: out, Msg: "ok"})
}

func (s *Server) listSessions(c *gin.Context) {
	identity := identityFrom(c)

	sessions, err := s.sessions.ListForUser(c.Request.Context(), identity.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Data: gin.H{"sessions": sessions}})
}

func (s *Server) createSession(c *gin.Context) {
	var in types.CreateSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, ParamErr("Invalid session payload", err))
		return
	}

	session, err := s.sessions.CreateSession(c.Request.Context(), identityFrom(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Data: gin.H{"session": session}})
}

type SessionResponse struct {
	Session         *types.Session `json:"session"`
	ConnectionCount int            `json:"connection_count"`
}

func (s *Server) getSession(c *gin.Context) {
	sessionID := c.Param("id")

	session, err := s.sessions.GetForUser(c.Request.Context(), identityFrom(c).UserID, sessionID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Data: SessionResponse{
		Session:         session,
		ConnectionCount: len(s.rooms.MembersOf(sessionID)),
	}})
}

type PostMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) postMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ParamErr(types.MsgTextRequired, err))
		return
	}

	msg, err := s.sessions.AddMessage(c.Request.Context(), identityFrom(c), c.Param("id"), req.Message)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Data: gin.H{"message": msg}})
}

type PostCodeRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language"`
}

func (s *Server) postCode(c *gin.Context) {
	var req PostCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ParamErr(types.MsgCodeRequired, err))
		return
	}

	snap, err := s.sessions.AddCodeSnapshot(c.Request.Context(), identityFrom(c), c.Param("id"), req.Code, req.Language)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Data: gin.H{"snapshot": snap}})
}

func (s *Server) fail(c *gin.Context, err error) {
	status, res := FromError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, res)
}
