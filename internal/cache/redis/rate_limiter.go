package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

func rateLimitKey(key string) string { return "ratelimit:" + key }

// RateLimiter caps how often one API client may submit runs. Each key is a
// sorted set of request times trimmed and counted by a Lua script, so the
// check and the insert happen atomically.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), script: redis.NewScript(slidingWindowLua)}
}

// Allow records a submission under key and reports whether at most limit
// submissions fall inside the trailing window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rl.script.Run(ctx, rl.rdb, []string{rateLimitKey(key)},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) == 0 {
		return false, fmt.Errorf("redis: rate limit %s: empty script reply", key)
	}
	return res[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
