// Package cache provides best-effort read/write caching over the shared
// keyed store. Every operation degrades to a miss or a no-op when the store
// is unavailable; the cache is an optimization, never a dependency for
// correctness.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/contractbridge/coordination/pkg/config"
	appLogger "github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	store      *store.Client
	logger     appLogger.Logger
	defaultTTL time.Duration
}

func New(client *store.Client, cfg config.Cache, logger appLogger.Logger) *Cache {
	return &Cache{
		store:      client,
		logger:     logger.WithComponent("cache"),
		defaultTTL: cfg.DefaultTTL,
	}
}

// Get decodes the cached value for key into dest and reports whether it was
// found. A store error or an undecodable payload is treated as a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read degraded to miss")
		}

		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("corrupt cache payload treated as miss")

		return false
	}

	return true
}

// Set serializes and stores the value, overwriting unconditionally.
// A non-positive ttl falls back to the configured default. Failures are
// logged and swallowed so the caller's primary path never fails on a cache
// write.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to serialize cache value")

		return
	}

	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to write cache value")
	}
}

// Invalidate deletes a single key. No-op when the key is absent.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to invalidate cache key")
	}
}

// InvalidatePattern deletes every key matching the glob pattern and returns
// how many were removed. Expensive; intended for administrative
// invalidation, not hot paths.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) int64 {
	deleted, err := c.store.DeletePattern(ctx, pattern)
	if err != nil {
		c.logger.Warn().Err(err).Str("pattern", pattern).Msg("pattern invalidation incomplete")
	}

	return deleted
}

// GetOrLoad returns the cached value for key, loading and caching it on a
// miss. Load errors propagate; cache writes stay best-effort.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.Get(ctx, key, &cached) {
		return cached, nil
	}

	loaded, err := load(ctx)
	if err != nil {
		var zero T

		return zero, err
	}

	c.Set(ctx, key, loaded, ttl)

	return loaded, nil
}
