package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "summary:"

// RedisCache is a Redis-backed implementation of Cache.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedis wraps an already-constructed Redis client. The client is owned by
// the caller and shared with any other component that needs Redis.
func NewRedis(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Lookup(ctx context.Context, fingerprint string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, keyPrefix+fingerprint).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache lookup %s: %w", fingerprint, err)
	}
	return val, true, nil
}

func (c *RedisCache) Store(ctx context.Context, fingerprint, summary string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, keyPrefix+fingerprint, summary, ttl).Err(); err != nil {
		return fmt.Errorf("cache store %s: %w", fingerprint, err)
	}
	return nil
}
