package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is a per-key fixed-window limiter held in process memory. It is only
// correct for a single node.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientLimit
	now     func() time.Time
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow admits the event when key has sent fewer than limit events in the
// current window. The first event after a window elapses starts a new one.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	c, ok := m.clients[key]
	if !ok || now.Sub(c.windowStart) >= m.window {
		m.clients[key] = &clientLimit{count: 1, windowStart: now}
		return true, nil
	}

	if c.count >= m.limit {
		return false, nil
	}
	c.count++
	return true, nil
}

// Cleanup drops keys idle for five windows.
func (m *Memory) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, c := range m.clients {
		if now.Sub(c.windowStart) > 5*m.window {
			delete(m.clients, key)
		}
	}
}

// Run calls Cleanup every window until ctx is done.
func (m *Memory) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
