// redis.go implements the shared sliding-window backend on a Redis sorted
// set of event timestamps. Each check trims entries older than the window,
// appends now, and counts what remains — all inside one MULTI/EXEC
// transaction so concurrent gateway instances never interleave partially.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter is the shared sliding-window backend.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a RedisLimiter over an established client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Backend implements Limiter.
func (l *RedisLimiter) Backend() string { return "redis" }

// Allow implements Limiter. The caller handles a non-nil error by failing
// open; this method never fabricates an allow itself.
func (l *RedisLimiter) Allow(ctx context.Context, key string, policy Policy) (*Decision, error) {
	now := time.Now()
	windowStart := now.Add(-policy.Window)

	// Member values are nanosecond timestamps suffixed with a UUID so two
	// events in the same nanosecond still occupy two set entries.
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.PExpire(ctx, key, policy.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	count := int(countCmd.Val())

	// ResetAt is when the oldest surviving event ages out of the window.
	resetAt := now.Add(policy.Window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(policy.Window)
	}

	decision := &Decision{
		Allowed:   count <= policy.Limit,
		Limit:     policy.Limit,
		Remaining: max(policy.Limit-count, 0),
		ResetAt:   resetAt,
	}
	return decision, nil
}
