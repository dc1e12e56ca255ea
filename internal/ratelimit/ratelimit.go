// Package ratelimit bounds how many chat messages one user may send per
// window.
package ratelimit

import (
	"context"

	"github.com/redis/go-redis/v9"

	"mentorsync/internal/config"
	"mentorsync/pkg/interfaces"
)

// Unlimited admits everything. It stands in when rate limiting is disabled.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// New picks the backend named by cfg.RateLimit. rdb may be nil unless the redis
// backend is selected.
func New(cfg *config.Config, rdb *redis.Client) interfaces.RateLimiter {
	if !cfg.RateLimit.Enabled {
		return Unlimited{}
	}
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis && rdb != nil {
		return NewRedis(rdb, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	return NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
}
