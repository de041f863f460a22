// Package metrics records per-operation latency samples in the shared
// keyed store as bounded lists, so rolling averages are visible across the
// whole fleet. Everything here is best-effort: a store failure costs a
// sample, never a request.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/contractbridge/coordination/pkg/config"
	appLogger "github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
)

const keyPrefix = "metrics:response_time"

type Recorder struct {
	store      *store.Client
	logger     appLogger.Logger
	sampleSize uint
	sampleTTL  time.Duration
}

func New(client *store.Client, cfg config.Metrics, logger appLogger.Logger) *Recorder {
	return &Recorder{
		store:      client,
		logger:     logger.WithComponent("metrics"),
		sampleSize: cfg.SampleSize,
		sampleTTL:  cfg.SampleTTL,
	}
}

// RecordResponseTime pushes one latency sample for (endpoint, method),
// keeping only the most recent sampleSize entries. Idle keys expire after
// sampleTTL so stats for dead endpoints do not accumulate.
func (r *Recorder) RecordResponseTime(ctx context.Context, endpoint, method string, duration time.Duration) {
	key := r.key(endpoint, method)

	if err := r.store.LPush(ctx, key, strconv.FormatInt(duration.Milliseconds(), 10)); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to record response time sample")

		return
	}

	if err := r.store.LTrim(ctx, key, 0, int64(r.sampleSize)-1); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to trim response time samples")
	}

	if err := r.store.Expire(ctx, key, r.sampleTTL); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to refresh sample expiry")
	}
}

// AverageResponseTime returns the arithmetic mean over the retained
// samples in milliseconds, or 0 when there are none (or the store is
// unreachable).
func (r *Recorder) AverageResponseTime(ctx context.Context, endpoint, method string) float64 {
	key := r.key(endpoint, method)

	samples, err := r.store.LRange(ctx, key, 0, -1)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to read response time samples")

		return 0
	}

	if len(samples) == 0 {
		return 0
	}

	var total float64
	counted := 0

	for _, sample := range samples {
		value, err := strconv.ParseFloat(sample, 64)
		if err != nil {
			r.logger.Warn().Str("key", key).Str("sample", sample).Msg("skipping unparseable sample")
			continue
		}

		total += value
		counted++
	}

	if counted == 0 {
		return 0
	}

	return total / float64(counted)
}

func (r *Recorder) key(endpoint, method string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, endpoint, method)
}
