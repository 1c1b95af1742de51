package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

// semaphoreTTL bounds how long a leaked slot survives a crashed replica.
const semaphoreTTL = 5 * time.Minute

// LimitConfig holds cluster-wide limits shared by every gateway replica.
type LimitConfig struct {
	RequestsPerMinute int
	ParallelRequests  int
}

func (c LimitConfig) enabled() bool {
	return c.RequestsPerMinute > 0 || c.ParallelRequests > 0
}

// RateLimiter enforces LimitConfig with Redis counters. A nil limiter or a
// nil client allows everything.
type RateLimiter struct {
	client *redis.Client
	prefix string
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, prefix: "gateway"}
}

func (l *RateLimiter) Allow(ctx context.Context, key string, cfg LimitConfig) error {
	if l == nil || l.client == nil {
		return nil
	}

	if cfg.RequestsPerMinute > 0 {
		if err := l.countCheck(ctx, l.key("rpm", key), time.Minute, cfg.RequestsPerMinute); err != nil {
			return err
		}
	}
	if cfg.ParallelRequests > 0 {
		if err := l.semaphoreAcquire(ctx, l.key("sem", key), cfg.ParallelRequests); err != nil {
			return err
		}
	}

	return nil
}

func (l *RateLimiter) Release(ctx context.Context, key string, cfg LimitConfig) {
	if l == nil || l.client == nil {
		return
	}
	if cfg.ParallelRequests > 0 {
		l.semaphoreRelease(ctx, l.key("sem", key))
	}
}

func (l *RateLimiter) key(kind, key string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, kind, key)
}

func (l *RateLimiter) countCheck(ctx context.Context, key string, ttl time.Duration, limit int) error {
	now := time.Now().UTC().Unix() / int64(ttl.Seconds())
	redisKey := fmt.Sprintf("%s:%d", key, now)

	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, ttl)
	}
	if int(cnt) > limit {
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) semaphoreAcquire(ctx context.Context, key string, max int) error {
	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, key, semaphoreTTL)
	}
	if int(cnt) > max {
		l.client.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) semaphoreRelease(ctx context.Context, key string) {
	l.client.Decr(ctx, key)
}
