// Package ratelimit implements a fixed-bucket sliding-window counter per
// (identifier, action) pair on top of the shared keyed store. Windows are
// aligned to windowSeconds boundaries and reset sharply at each boundary.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/contractbridge/coordination/pkg/config"
	appLogger "github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
	"github.com/redis/go-redis/v9"
)

// windowCheck prunes stale attempts, records the current one, counts the
// active window, and refreshes the key expiry — one round trip so
// concurrent callers on the same key cannot race each other.
//
// ARGV: prune ceiling, attempt score, attempt member, window start,
// key expiry in seconds.
var windowCheck = redis.NewScript(`
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("ZADD", KEYS[1], ARGV[2], ARGV[3])
	local count = redis.call("ZCOUNT", KEYS[1], ARGV[4], "+inf")
	redis.call("EXPIRE", KEYS[1], ARGV[5])
	return count
`)

type (
	// Result reports the outcome of a single rate limit check.
	Result struct {
		Allowed   bool
		Remaining int
		// ResetAt is the boundary at which the current window ends and the
		// counter starts over.
		ResetAt time.Time
	}

	Limiter struct {
		store     *store.Client
		logger    appLogger.Logger
		keyPrefix string
		now       func() time.Time
		sequence  atomic.Uint64
	}

	Option func(*Limiter)
)

// WithClock overrides the time source. Used by tests to cross window
// boundaries without sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func New(client *store.Client, cfg config.RateLimit, logger appLogger.Logger, opts ...Option) *Limiter {
	limiter := &Limiter{
		store:     client,
		logger:    logger.WithComponent("ratelimit"),
		keyPrefix: cfg.KeyPrefix,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(limiter)
	}

	return limiter
}

// Check records one request attempt for (identifier, action) and reports
// whether it fits within limit requests per window. Every call counts
// against the budget, including ones that end up denied.
//
// When the store is unreachable the check fails open: a broken coordination
// store must never reject the whole request stream.
func (l *Limiter) Check(ctx context.Context, identifier, action string, limit int, window time.Duration) Result {
	now := l.now()
	windowSeconds := int64(window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	windowStart := now.Unix() / windowSeconds * windowSeconds
	resetAt := time.Unix(windowStart+windowSeconds, 0)

	key := fmt.Sprintf("%s:%s:%s", l.keyPrefix, action, identifier)
	score := float64(now.UnixNano()) / float64(time.Second)
	// The sequence suffix keeps members unique when attempts land on the
	// same nanosecond.
	member := fmt.Sprintf("%d-%d", now.UnixNano(), l.sequence.Add(1))

	raw, err := l.store.RunScript(ctx, windowCheck, []string{key},
		strconv.FormatInt(windowStart-windowSeconds, 10),
		strconv.FormatFloat(score, 'f', -1, 64),
		member,
		strconv.FormatInt(windowStart, 10),
		strconv.FormatInt(2*windowSeconds, 10),
	)
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("action", action).
			Str("identifier", identifier).
			Msg("rate limit check failed open")

		return Result{Allowed: true, Remaining: limit, ResetAt: resetAt}
	}

	count, ok := raw.(int64)
	if !ok {
		l.logger.Warn().
			Str("action", action).
			Str("identifier", identifier).
			Msgf("unexpected window count type %T, failing open", raw)

		return Result{Allowed: true, Remaining: limit, ResetAt: resetAt}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   int(count) <= limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
