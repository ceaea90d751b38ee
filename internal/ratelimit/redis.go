package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter with a fixed window counter per key,
// coordinated across instances through Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
}

// NewRedisLimiter creates a limiter allowing limit requests per window.
func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, limit: int64(limit), window: window}
}

// Allow increments the counter for the current window and compares it to the
// limit. Redis errors are returned; callers fail open.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowStart := time.Now().Unix() / int64(r.window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart)

	n, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if n == 1 {
		// First hit in the window owns the expiry. One extra second absorbs
		// clock skew between instances.
		if err := r.client.Expire(ctx, redisKey, r.window+time.Second).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}
	return n <= r.limit, nil
}

// Close releases the underlying connection pool.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
