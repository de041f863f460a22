// Package store wraps the shared keyed store client and exposes the
// primitive operations the coordination layer is built on: plain keys with
// expiry, atomic counters, sorted sets, capped lists, hashes, and
// single-round-trip scripted check-and-act.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contractbridge/coordination/pkg/config"
	appLogger "github.com/contractbridge/coordination/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// checkAndDelete deletes the key only while it still holds the expected
// value. Running it server side closes the race between the ownership check
// and the delete.
var checkAndDelete = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

type Client struct {
	client *redis.Client
	logger appLogger.Logger
}

func NewClient(cfg config.Store, logger appLogger.Logger) *Client {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           int(cfg.DB),
		PoolSize:     int(cfg.PoolSize),
		MinIdleConns: int(cfg.MinIdleConns),
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
		MaxRetries:   int(cfg.MaxRetries),
	}

	return &Client{
		client: redis.NewClient(opts),
		logger: logger,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}

// IsHealthy checks if the store is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return c.Ping(ctx) == nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	startTime := time.Now()

	result, err := c.client.Get(ctx, key).Bytes()
	duration := time.Since(startTime)

	c.logger.Debug().
		Str("key", key).
		Int64("duration_ms", duration.Milliseconds()).
		Bool("hit", err == nil).
		Msg("store get operation")

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		c.logger.Error().
			Err(err).
			Str("key", key).
			Msg("store get operation failed")

		return nil, err
	}

	return result, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	startTime := time.Now()
	var err error

	defer func() {
		duration := time.Since(startTime)

		c.logger.Debug().
			Str("key", key).
			Str("expiry", ttl.String()).
			Int64("duration_ms", duration.Milliseconds()).
			Bool("success", err == nil).
			Msg("store set operation")
	}()

	err = c.client.Set(ctx, key, value, ttl).Err()

	return err
}

// SetNX stores the value with a TTL only when the key does not exist yet.
// This is the acquisition primitive for leases and locks.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	startTime := time.Now()
	var err error

	defer func() {
		duration := time.Since(startTime)

		c.logger.Debug().
			Str("key", key).
			Str("expiry", ttl.String()).
			Int64("duration_ms", duration.Milliseconds()).
			Bool("success", err == nil).
			Msg("store setnx operation")
	}()

	acquired, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setting key if absent: %w", err)
	}

	return acquired, nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	startTime := time.Now()
	var err error

	defer func() {
		duration := time.Since(startTime)

		c.logger.Debug().
			Strs("keys", keys).
			Int64("duration_ms", duration.Milliseconds()).
			Bool("success", err == nil).
			Msg("store delete operation")
	}()

	err = c.client.Del(ctx, keys...).Err()

	return err
}

// Scan iterates over keys matching a pattern.
func (c *Client) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, count).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("scanning keys: %w", err)
	}

	return keys, nextCursor, nil
}

// DeletePattern enumerates keys matching the glob pattern and deletes them,
// returning how many were removed. Expensive; meant for administrative
// invalidation, not hot paths.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var totalDeleted int64

	for {
		keys, nextCursor, err := c.Scan(ctx, cursor, pattern, 100)
		if err != nil {
			return totalDeleted, err
		}

		for _, key := range keys {
			if err := c.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
				c.logger.Warn().Str("key", key).Err(err).Msg("failed to delete key during pattern purge")
				continue
			}
			totalDeleted++
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return totalDeleted, nil
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	value, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing key: %w", err)
	}

	return value, nil
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

// TTL returns the remaining time-to-live of a key.
func (c *Client) TTL(ctx context.Context, key string) time.Duration {
	result, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to get TTL")

		return 0
	}

	return result
}

func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *Client) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	removed, err := c.client.ZRemRangeByScore(ctx, key, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("removing sorted set range: %w", err)
	}

	return removed, nil
}

func (c *Client) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	count, err := c.client.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("counting sorted set range: %w", err)
	}

	return count, nil
}

// ZPopMin atomically removes and returns the lowest-scored member.
// The boolean is false when the set is empty.
func (c *Client) ZPopMin(ctx context.Context, key string) (string, bool, error) {
	members, err := c.client.ZPopMin(ctx, key, 1).Result()
	if err != nil {
		return "", false, fmt.Errorf("popping sorted set minimum: %w", err)
	}

	if len(members) == 0 {
		return "", false, nil
	}

	member, ok := members[0].Member.(string)
	if !ok {
		return "", false, fmt.Errorf("unexpected sorted set member type %T", members[0].Member)
	}

	return member, true, nil
}

func (c *Client) LPush(ctx context.Context, key string, value any) error {
	return c.client.LPush(ctx, key, value).Err()
}

func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	return c.client.LTrim(ctx, key, start, stop).Err()
}

func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("reading list range: %w", err)
	}

	return values, nil
}

func (c *Client) HSet(ctx context.Context, key, field string, value any) error {
	return c.client.HSet(ctx, key, field, value).Err()
}

// HGet returns the hash field value, or redis.Nil when the field is absent.
func (c *Client) HGet(ctx context.Context, key, field string) ([]byte, error) {
	data, err := c.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}

		return nil, fmt.Errorf("reading hash field: %w", err)
	}

	return data, nil
}

// CheckAndDelete deletes the key in a single round trip only while it still
// holds the expected value, reporting whether the delete happened.
func (c *Client) CheckAndDelete(ctx context.Context, key, expected string) (bool, error) {
	result, err := checkAndDelete.Run(ctx, c.client, []string{key}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("checked delete: %w", err)
	}

	return result == 1, nil
}

// RunScript executes a component-owned script against the store.
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	result, err := script.Run(ctx, c.client, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("running script: %w", err)
	}

	return result, nil
}

// Info returns the server info string for the requested sections.
func (c *Client) Info(ctx context.Context, sections ...string) (string, error) {
	info, err := c.client.Info(ctx, sections...).Result()
	if err != nil {
		return "", fmt.Errorf("reading server info: %w", err)
	}

	return info, nil
}

// PoolStats exposes connection pool counters for diagnostics.
func (c *Client) PoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}
