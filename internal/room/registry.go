// Package room tracks which live connections are in which session room.
package room

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"mentorsync/pkg/interfaces"
)

// Registry maps session ids to the connections joined to them. A connection is
// in at most one room; empty rooms are removed.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]interfaces.Connection // sessionID -> connID -> conn
	memberRoom map[string]string                           // connID -> sessionID
	log        *zap.Logger
}

// Stats is a point-in-time count for health reporting.
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		rooms:      make(map[string]map[string]interfaces.Connection),
		memberRoom: make(map[string]string),
		log:        log,
	}
}

// JoinRoom adds conn to sessionID. Joining the same room twice is a no-op;
// joining a different room moves the connection.
func (r *Registry) JoinRoom(sessionID string, conn interfaces.Connection) {
	if conn == nil || sessionID == "" {
		return
	}
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.memberRoom[id]; ok && prev != sessionID {
		r.removeLocked(prev, id)
	}

	members, ok := r.rooms[sessionID]
	if !ok {
		members = make(map[string]interfaces.Connection)
		r.rooms[sessionID] = members
	}
	members[id] = conn
	r.memberRoom[id] = sessionID
}

// LeaveRoom removes connID from sessionID. Unknown pairs are ignored.
func (r *Registry) LeaveRoom(sessionID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionID, connID)
}

// Remove takes connID out of whatever room it is in and returns that room.
func (r *Registry) Remove(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.memberRoom[connID]
	if !ok {
		return "", false
	}
	r.removeLocked(sessionID, connID)
	return sessionID, true
}

func (r *Registry) removeLocked(sessionID, connID string) {
	members, ok := r.rooms[sessionID]
	if !ok {
		return
	}
	if _, in := members[connID]; !in {
		return
	}
	delete(members, connID)
	if r.memberRoom[connID] == sessionID {
		delete(r.memberRoom, connID)
	}
	if len(members) == 0 {
		delete(r.rooms, sessionID)
	}
}

// Broadcast emits event to every member of sessionID except excludeID and
// returns how many emits succeeded. Emits run outside the lock; a failed emit is
// logged and skipped.
func (r *Registry) Broadcast(sessionID, event string, payload interface{}, excludeID string) int {
	recipients := r.MembersOf(sessionID)

	delivered := 0
	for _, conn := range recipients {
		if conn.ID() == excludeID {
			continue
		}
		if err := conn.Emit(event, payload); err != nil {
			r.log.Warn("broadcast delivery failed",
				zap.String("session_id", sessionID),
				zap.String("event", event),
				zap.String("conn_id", conn.ID()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// MembersOf returns a snapshot of the room ordered by connection id.
func (r *Registry) MembersOf(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	members := r.rooms[sessionID]
	out := make([]interfaces.Connection, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// RoomOf reports the room connID is currently in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.memberRoom[connID]
	return sessionID, ok
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Rooms: len(r.rooms), Members: len(r.memberRoom)}
}
