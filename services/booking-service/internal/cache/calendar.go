// Package cache holds the Redis month-grid cache. Rendered calendars are hot
// and change only when a booking or block mutates, so each property carries a
// version counter: writes bump the version, which orphans every cached month
// for that property without scanning keys.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type CalendarCache struct {
	rdb    *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// New returns a nil-safe cache; a nil client disables caching entirely.
func New(rdb *redis.Client, logger *slog.Logger, ttl time.Duration) *CalendarCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CalendarCache{rdb: rdb, logger: logger, ttl: ttl}
}

// Get returns the cached month grid JSON, if present. Cache errors degrade to
// a miss; the calendar is always recomputable.
func (c *CalendarCache) Get(ctx context.Context, propertyID string, year int, month time.Month) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	key, err := c.key(ctx, propertyID, year, month)
	if err != nil {
		return nil, false
	}
	body, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("calendar cache read failed", "err", err)
		}
		return nil, false
	}
	return body, true
}

func (c *CalendarCache) Set(ctx context.Context, propertyID string, year int, month time.Month, body []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	key, err := c.key(ctx, propertyID, year, month)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
		c.logger.Warn("calendar cache write failed", "err", err)
	}
}

// Invalidate bumps the property's calendar version, orphaning all cached
// months at once. Orphaned entries age out through the TTL.
func (c *CalendarCache) Invalidate(ctx context.Context, propertyID string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Incr(ctx, versionKey(propertyID)).Err(); err != nil {
		c.logger.Warn("calendar cache invalidation failed", "err", err)
	}
}

func (c *CalendarCache) key(ctx context.Context, propertyID string, year int, month time.Month) (string, error) {
	ver, err := c.rdb.Get(ctx, versionKey(propertyID)).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	return fmt.Sprintf("calendar:%s:v%d:%04d-%02d", propertyID, ver, year, int(month)), nil
}

func versionKey(propertyID string) string {
	return "calendar_version:" + propertyID
}
