package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Cache holds the cross-process counters: per-game viewer counts and
// daemon latency statistics.
type Cache interface {
	ResetViewerCount(ctx context.Context, gameID string) error
	IncrViewerCount(ctx context.Context, gameID string) (int64, error)
	DecrViewerCount(ctx context.Context, gameID string) (int64, error)
	ViewerCount(ctx context.Context, gameID string) (int64, error)
	UpdateMaxViewerCount(ctx context.Context, gameID string) (int64, error)
	RecordDaemonLatency(ctx context.Context, daemonID string, seconds float64) error
}

func viewerCountKey(gameID string) string {
	return fmt.Sprintf("game:viewer_count:%s", gameID)
}

func maxViewerCountKey(gameID string) string {
	return fmt.Sprintf("game:max_viewer_count:%s", gameID)
}

func daemonResponseTimeKey(daemonID string) string {
	return fmt.Sprintf("daemon:response_time:%s", daemonID)
}

// RedisCache is the production Cache on go-redis.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) ResetViewerCount(ctx context.Context, gameID string) error {
	return c.rdb.Set(ctx, viewerCountKey(gameID), 0, 0).Err()
}

func (c *RedisCache) IncrViewerCount(ctx context.Context, gameID string) (int64, error) {
	return c.rdb.Incr(ctx, viewerCountKey(gameID)).Result()
}

// DecrViewerCount floors the count at zero.
func (c *RedisCache) DecrViewerCount(ctx context.Context, gameID string) (int64, error) {
	current, err := c.ViewerCount(ctx, gameID)
	if err != nil {
		return 0, err
	}
	if current <= 1 {
		return 0, c.rdb.Set(ctx, viewerCountKey(gameID), 0, 0).Err()
	}
	return c.rdb.Decr(ctx, viewerCountKey(gameID)).Result()
}

func (c *RedisCache) ViewerCount(ctx context.Context, gameID string) (int64, error) {
	count, err := c.rdb.Get(ctx, viewerCountKey(gameID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// UpdateMaxViewerCount ratchets the running max up to the current count.
func (c *RedisCache) UpdateMaxViewerCount(ctx context.Context, gameID string) (int64, error) {
	current, err := c.ViewerCount(ctx, gameID)
	if err != nil {
		return 0, err
	}
	max, err := c.rdb.Get(ctx, maxViewerCountKey(gameID)).Int64()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	if current > max {
		max = current
	}
	return max, c.rdb.Set(ctx, maxViewerCountKey(gameID), max, 0).Err()
}

// RecordDaemonLatency accumulates count/sum/sumsq members of the daemon's
// latency sorted set in one round trip.
func (c *RedisCache) RecordDaemonLatency(ctx context.Context, daemonID string, seconds float64) error {
	key := daemonResponseTimeKey(daemonID)
	pipe := c.rdb.Pipeline()
	pipe.ZIncrBy(ctx, key, 1, "count")
	pipe.ZIncrBy(ctx, key, seconds, "sum")
	pipe.ZIncrBy(ctx, key, seconds*seconds, "sumsq")
	_, err := pipe.Exec(ctx)
	return err
}
