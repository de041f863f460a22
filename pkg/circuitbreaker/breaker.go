// Package circuitbreaker tracks downstream failures in the shared keyed
// store so every process in the fleet sees the same closed/open/half-open
// state for a service.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/contractbridge/coordination/pkg/config"
	appLogger "github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
	"github.com/redis/go-redis/v9"
)

const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half-open"

	keyPrefix = "circuit"
)

type (
	Breaker struct {
		store            *store.Client
		logger           appLogger.Logger
		failureThreshold uint
		recoveryTimeout  time.Duration
		now              func() time.Time
	}

	Option func(*Breaker)
)

// WithClock overrides the time source for recovery timeout arithmetic.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

func New(client *store.Client, cfg config.CircuitBreaker, logger appLogger.Logger, opts ...Option) *Breaker {
	breaker := &Breaker{
		store:            client,
		logger:           logger.WithComponent("circuitbreaker"),
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(breaker)
	}

	return breaker
}

// Allow reports whether a call to the service is currently permitted.
//
// Arriving at Allow while the breaker is half-open counts as the previous
// trial having succeeded: the breaker closes and the failure counter is
// cleared. Callers must therefore call Allow exactly once per attempt and
// report failures through RecordFailure; there is no separate success call.
//
// When the shared store is unreachable the breaker fails open — a broken
// coordination store must not itself amplify an outage.
func (b *Breaker) Allow(ctx context.Context, service string) bool {
	state, err := b.readState(ctx, service)
	if err != nil {
		b.logger.Warn().Err(err).Str("service", service).Msg("circuit state unreadable, failing open")

		return true
	}

	switch state {
	case stateOpen:
		lastFailure, err := b.readLastFailure(ctx, service)
		if err != nil {
			b.logger.Warn().Err(err).Str("service", service).Msg("last failure unreadable, failing open")

			return true
		}

		if b.now().Sub(lastFailure) < b.recoveryTimeout {
			return false
		}

		b.setState(ctx, service, stateHalfOpen)
		b.logger.Info().Str("service", service).Msg("circuit half-open, permitting trial call")

		return true

	case stateHalfOpen:
		b.setState(ctx, service, stateClosed)
		b.clearFailures(ctx, service)
		b.logger.Info().Str("service", service).Msg("circuit closed after successful trial")

		return true

	default:
		return true
	}
}

// RecordFailure counts one failed call against the service and opens the
// circuit once the failure threshold is reached. Best-effort: store errors
// are logged, never surfaced.
func (b *Breaker) RecordFailure(ctx context.Context, service string) {
	failures, err := b.store.Incr(ctx, b.key(service, "failures"))
	if err != nil {
		b.logger.Warn().Err(err).Str("service", service).Msg("failed to record circuit failure")

		return
	}

	nowMillis := strconv.FormatInt(b.now().UnixMilli(), 10)
	if err := b.store.Set(ctx, b.key(service, "last_failure"), nowMillis, 0); err != nil {
		b.logger.Warn().Err(err).Str("service", service).Msg("failed to stamp circuit failure time")
	}

	if failures >= int64(b.failureThreshold) {
		b.setState(ctx, service, stateOpen)
		b.logger.Warn().
			Str("service", service).
			Int64("failures", failures).
			Msg("circuit opened")
	}
}

func (b *Breaker) readState(ctx context.Context, service string) (string, error) {
	data, err := b.store.Get(ctx, b.key(service, "state"))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return stateClosed, nil
		}

		return "", err
	}

	return string(data), nil
}

func (b *Breaker) readLastFailure(ctx context.Context, service string) (time.Time, error) {
	data, err := b.store.Get(ctx, b.key(service, "last_failure"))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Open without a failure stamp should not happen; treat the
			// recovery timeout as elapsed.
			return time.Time{}, nil
		}

		return time.Time{}, err
	}

	millis, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last failure stamp: %w", err)
	}

	return time.UnixMilli(millis), nil
}

func (b *Breaker) setState(ctx context.Context, service, state string) {
	if err := b.store.Set(ctx, b.key(service, "state"), state, 0); err != nil {
		b.logger.Warn().Err(err).Str("service", service).Str("state", state).Msg("failed to persist circuit state")
	}
}

func (b *Breaker) clearFailures(ctx context.Context, service string) {
	if err := b.store.Delete(ctx, b.key(service, "failures")); err != nil {
		b.logger.Warn().Err(err).Str("service", service).Msg("failed to clear circuit failures")
	}
}

func (b *Breaker) key(service, field string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, service, field)
}

// Execute runs fn through the breaker: rejected calls return ErrCircuitOpen
// without invoking fn, and an fn error is recorded as a failure.
func Execute[T any](ctx context.Context, b *Breaker, service string, fn func(context.Context) (T, error)) (T, error) {
	if !b.Allow(ctx, service) {
		var zero T

		return zero, ErrCircuitOpen
	}

	result, err := fn(ctx)
	if err != nil {
		b.RecordFailure(ctx, service)

		return result, err
	}

	return result, nil
}
