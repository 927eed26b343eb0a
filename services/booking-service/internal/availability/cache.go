package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = 5 * time.Minute

// epochRetention keeps invalidation counters around long enough to outlive
// any cached value they guard.
const epochRetention = 48 * time.Hour

// RedisCache is the slot cache. Values are keyed by (resource, date,
// duration, epoch); invalidation bumps the per-(resource, date) epoch
// counter, which orphans every duration variant at once. Orphaned values
// fall out via their own TTL.
//
// Any Redis failure degrades to a cache miss: the read path recomputes,
// it never hard-fails on the cache tier.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key CacheKey) ([]Slot, bool) {
	epoch, err := c.epoch(ctx, key.ResourceID, key.Date)
	if err != nil {
		c.logger.Warn("slot cache epoch read failed", "err", err)
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, c.valueKey(key, epoch)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("slot cache read failed", "err", err)
		}
		return nil, false
	}
	var slots []Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		c.logger.Warn("slot cache decode failed", "err", err)
		return nil, false
	}
	return slots, true
}

func (c *RedisCache) Put(ctx context.Context, key CacheKey, slots []Slot) {
	epoch, err := c.epoch(ctx, key.ResourceID, key.Date)
	if err != nil {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.valueKey(key, epoch), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("slot cache write failed", "err", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, resourceID, date string) {
	key := c.epochKey(resourceID, date)
	pipe := c.rdb.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, epochRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("slot cache invalidation failed", "err", err, "resource_id", resourceID, "date", date)
	}
}

func (c *RedisCache) epoch(ctx context.Context, resourceID, date string) (int64, error) {
	n, err := c.rdb.Get(ctx, c.epochKey(resourceID, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *RedisCache) epochKey(resourceID, date string) string {
	return "slots:epoch:" + resourceID + ":" + date
}

func (c *RedisCache) valueKey(key CacheKey, epoch int64) string {
	return fmt.Sprintf("slots:%s:%s:%d:v%d", key.ResourceID, key.Date, key.DurationMinutes, epoch)
}
