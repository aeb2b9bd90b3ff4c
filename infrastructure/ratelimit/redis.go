package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces a fixed-window request cap shared across replicas
// via Redis INCR/EXPIRE, used when REDIS_URL is configured (spec.md
// §6.4/§9). The window resets every second, matching the in-process
// limiter's per-second rate semantics.
type RedisLimiter struct {
	client    *redis.Client
	limit     int64
	keyPrefix string
}

// NewRedisLimiter creates a RedisLimiter connected to redisURL, allowing up
// to limit requests per second per key. Non-positive limit falls back to
// 100.
func NewRedisLimiter(redisURL string, limit int) (*RedisLimiter, error) {
	if limit <= 0 {
		limit = 100
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	return &RedisLimiter{
		client:    redis.NewClient(opts),
		limit:     int64(limit),
		keyPrefix: "qbench:ratelimit:",
	}, nil
}

// Allow reports whether a request for key may proceed in the current
// one-second window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowKey := fmt.Sprintf("%s%s:%d", l.keyPrefix, key, time.Now().Unix())

	count, err := l.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, windowKey, 2*time.Second).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}
	return count <= l.limit, nil
}

// Close closes the underlying Redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
