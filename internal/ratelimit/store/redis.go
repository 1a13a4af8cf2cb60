package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"govconsent/internal/ratelimit/models"
)

// Redis is a fixed window limiter shared by every replica. The counter and its
// expiry are set in one MULTI so a crash cannot leave a key without a TTL.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check for %s: %w", key, err)
	}

	count := int(incr.Val())
	remainingTTL := ttl.Val()
	if remainingTTL <= 0 {
		remainingTTL = window
	}
	resetAt := time.Now().Add(remainingTTL)

	if count > limit {
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(remainingTTL),
		}, nil
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}, nil
}

func (s *Redis) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset rate limit for %s: %w", key, err)
	}
	return nil
}
