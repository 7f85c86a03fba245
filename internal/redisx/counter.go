package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore implements ports.CounterStore on plain Redis counters.
type CounterStore struct {
	client *redis.Client
}

func NewCounterStore(client *redis.Client) *CounterStore {
	return &CounterStore{client: client}
}

// Increment bumps the counter and refreshes its TTL in one round trip,
// returning the post-increment value.
func (c *CounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
