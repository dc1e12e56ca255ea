package gateway

import (
	"sync"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// State is where a connection is in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is the gateway-owned state record for one connection. Its fields only
// change through the gateway's operations.
type Client struct {
	conn interfaces.Connection

	mu        sync.RWMutex
	state     State
	identity  *types.Identity
	sessionID string
}

func NewClient(conn interfaces.Connection) *Client {
	return &Client{conn: conn, state: StateConnecting}
}

func (c *Client) ID() string { return c.conn.ID() }

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Identity is nil until the client authenticates.
func (c *Client) Identity() *types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// SessionID is "" unless the client is joined.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) snapshot() (State, *types.Identity, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.identity, c.sessionID
}

func (c *Client) isClosed() bool {
	return c.State() == StateClosed
}
