package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps a sliding-window log per key in a sorted set scored by
// hit time in milliseconds, shared by every instance.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, max: max, window: window, now: time.Now}
}

// Allow records the hit and removes it again when the window was already full.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := "ratelimit:" + l.prefix + ":" + key
	now := l.now()
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(nowMs-l.window.Milliseconds(), 10))
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowMs), Member: member})
		count = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		pipe.PExpire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit %s: %w", l.prefix, err)
	}

	if count.Val() <= int64(l.max) {
		return true, 0, nil
	}

	if err := l.rdb.ZRem(ctx, redisKey, member).Err(); err != nil {
		return false, 0, fmt.Errorf("redis rate limit %s: %w", l.prefix, err)
	}

	retryAfter := time.Second
	if first := oldest.Val(); len(first) > 0 {
		oldestAt := time.UnixMilli(int64(first[0].Score))
		retryAfter = max(oldestAt.Add(l.window).Sub(now), time.Second)
	}
	return false, retryAfter, nil
}

// NewRedisClient parses url the way redis.ParseURL does and checks connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}
