// Package ratelimit throttles hot write paths, checkout in particular, per
// register with a Redis sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a sliding window over a Redis sorted set of event timestamps.
type Limiter struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the oldest counted event leaves the window.
	ResetAt time.Time
}

// Allow records an event for key. Rejected events are not kept, so a
// register hammering the endpoint does not extend its own lockout.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (Decision, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: max(limit, 0), ResetAt: now.Add(window)}, nil
	}

	redisKey := l.Prefix + key
	member := uuid.NewString()
	cutoff := now.Add(-window).UnixNano()

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprint(cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{ResetAt: now.Add(window)}, err
	}

	resetAt := now.Add(window)
	if first := oldest.Val(); len(first) > 0 {
		resetAt = time.Unix(0, int64(first[0].Score)).In(now.Location()).Add(window)
	}
	current := int(count.Val())
	if current > limit {
		_ = l.Client.ZRem(ctx, redisKey, member).Err()
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: limit - current, ResetAt: resetAt}, nil
}
