// Package ratelimit provides request limiters for the HTTP rate limit middleware.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "incident-triage:ratelimit:"

// RedisLimiter is a fixed-window limiter shared by every service replica.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a limiter that admits limit requests per key in
// each window. redisURL uses the redis:// scheme.
func NewRedisLimiter(redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisLimiter{
		client: redis.NewClient(opts),
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}, nil
}

// Ping checks the Redis connection.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Allow counts the request against the current window of key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	redisKey := keyPrefix + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	count, err := l.incrWithExpiry(ctx, redisKey, l.window)
	if err != nil {
		return false, 0, fmt.Errorf("increment rate counter: %w", err)
	}

	if count > l.limit {
		return false, windowStart.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}

func (l *RedisLimiter) incrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Close closes the Redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
