// Package lock provides a cross-process mutex on the shared keyed store.
// Ownership is fenced by an opaque token: only the holder that presents the
// stored token can release, and the lease TTL is the safety net against a
// crashed holder. Lease renewal is not provided — callers must size the TTL
// generously above the expected critical-section duration.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/contractbridge/coordination/pkg/config"
	appLogger "github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
	"github.com/google/uuid"
)

const keyPrefix = "lock:"

var errLockHeld = errors.New("lock already held")

type (
	Manager struct {
		store    *store.Client
		logger   appLogger.Logger
		defaults config.Lock
	}

	acquireSettings struct {
		ttl           time.Duration
		retryAttempts uint
		retryDelay    time.Duration
	}

	AcquireOption func(*acquireSettings)
)

// WithTTL overrides the lease duration for a single acquisition.
func WithTTL(ttl time.Duration) AcquireOption {
	return func(s *acquireSettings) {
		s.ttl = ttl
	}
}

// WithRetryAttempts overrides the total number of acquisition attempts.
func WithRetryAttempts(attempts uint) AcquireOption {
	return func(s *acquireSettings) {
		s.retryAttempts = attempts
	}
}

// WithRetryDelay overrides the pause between acquisition attempts.
func WithRetryDelay(delay time.Duration) AcquireOption {
	return func(s *acquireSettings) {
		s.retryDelay = delay
	}
}

func NewManager(client *store.Client, cfg config.Lock, logger appLogger.Logger) *Manager {
	return &Manager{
		store:    client,
		logger:   logger.WithComponent("lock"),
		defaults: cfg,
	}
}

// Acquire attempts to take the lock, retrying with a constant delay up to
// the configured number of attempts. It returns the fencing token and true
// on success. Contention and store errors both yield false — the caller
// decides its own backoff or abort policy; this primitive never blocks
// indefinitely.
func (m *Manager) Acquire(ctx context.Context, key string, opts ...AcquireOption) (string, bool) {
	settings := acquireSettings{
		ttl:           m.defaults.TTL,
		retryAttempts: m.defaults.RetryAttempts,
		retryDelay:    m.defaults.RetryDelay,
	}

	for _, opt := range opts {
		opt(&settings)
	}

	token := uuid.NewString()

	operation := func() (string, error) {
		acquired, err := m.store.SetNX(ctx, keyPrefix+key, token, settings.ttl)
		if err != nil {
			return "", err
		}

		if !acquired {
			return "", errLockHeld
		}

		return token, nil
	}

	acquiredToken, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(settings.retryDelay)),
		backoff.WithMaxTries(settings.retryAttempts),
	)
	if err != nil {
		if !errors.Is(err, errLockHeld) {
			m.logger.Warn().Err(err).Str("key", key).Msg("lock acquisition failed")
		}

		return "", false
	}

	return acquiredToken, true
}

// Release frees the lock only while it still holds the caller's token,
// in a single atomic round trip. It returns false when the token is stale
// or foreign — the current holder's lock is never deleted blindly — and on
// store errors, in which case the lease TTL remains the safety net.
func (m *Manager) Release(ctx context.Context, key, token string) bool {
	released, err := m.store.CheckAndDelete(ctx, keyPrefix+key, token)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("lock release failed")

		return false
	}

	return released
}
