package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quotewire/internal/application/port"
)

// RedisLimiter approximates a sliding window with two INCR buckets: the
// current bucket's count plus the previous bucket weighted by overlap. INCR
// keeps the count atomic across gateway instances sharing one key.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	bucket := now.Truncate(l.window)
	currKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket.Unix())
	prevKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket.Add(-l.window).Unix())

	pipe := l.rdb.Pipeline()
	currCmd := pipe.Incr(ctx, currKey)
	pipe.Expire(ctx, currKey, 2*l.window)
	prevCmd := pipe.Get(ctx, prevKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, err
	}

	curr := currCmd.Val()
	var prev int64
	if raw, err := prevCmd.Result(); err == nil {
		prev, _ = strconv.ParseInt(raw, 10, 64)
	}

	overlap := 1 - float64(now.Sub(bucket))/float64(l.window)
	estimated := float64(curr) + float64(prev)*overlap
	return estimated <= float64(l.limit), nil
}

var _ port.RateLimiter = (*RedisLimiter)(nil)
