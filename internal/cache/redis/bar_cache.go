package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// DefaultBarTTL bounds how long a loaded series stays cached.
const DefaultBarTTL = 24 * time.Hour

// BarCache implements domain.BarCache. Each series is one JSON string at
// "bars:{key}" with a TTL.
type BarCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBarCache creates a BarCache. A non-positive ttl uses DefaultBarTTL.
func NewBarCache(c *Client, ttl time.Duration) *BarCache {
	if ttl <= 0 {
		ttl = DefaultBarTTL
	}
	return &BarCache{rdb: c.Underlying(), ttl: ttl}
}

func barKey(key string) string {
	return "bars:" + key
}

// SetBars stores a series.
func (bc *BarCache) SetBars(ctx context.Context, key string, bars []domain.Bar) error {
	data, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("redis: marshal bars %s: %w", key, err)
	}
	if err := bc.rdb.Set(ctx, barKey(key), data, bc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set bars %s: %w", key, err)
	}
	return nil
}

// GetBars returns a cached series, or domain.ErrNotFound on a miss.
func (bc *BarCache) GetBars(ctx context.Context, key string) ([]domain.Bar, error) {
	data, err := bc.rdb.Get(ctx, barKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get bars %s: %w", key, err)
	}
	var bars []domain.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("redis: unmarshal bars %s: %w", key, err)
	}
	return bars, nil
}

var _ domain.BarCache = (*BarCache)(nil)
