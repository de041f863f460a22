package circuitbreaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/contractbridge/coordination/pkg/circuitbreaker"
	"github.com/contractbridge/coordination/pkg/config"
	"github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
	"github.com/stretchr/testify/suite"
)

type BreakerTestSuite struct {
	suite.Suite
	miniRedis *miniredis.Miniredis
	client    *store.Client
	breaker   *circuitbreaker.Breaker
	current   time.Time
}

func TestBreakerTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(BreakerTestSuite))
}

func (s *BreakerTestSuite) SetupTest() {
	var err error
	s.miniRedis, err = miniredis.Run()
	s.Require().NoError(err)

	cfg := config.Store{
		Address:      s.miniRedis.Addr(),
		PoolSize:     5,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}

	s.client = store.NewClient(cfg, logger.NewTestLogger())

	s.current = time.Unix(1_700_000_000, 0)
	s.breaker = circuitbreaker.New(
		s.client,
		config.CircuitBreaker{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second},
		logger.NewTestLogger(),
		circuitbreaker.WithClock(func() time.Time { return s.current }),
	)
}

func (s *BreakerTestSuite) TearDownTest() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.miniRedis != nil {
		s.miniRedis.Close()
	}
}

func (s *BreakerTestSuite) TestAllow_DefaultStateIsClosed() {
	s.Require().True(s.breaker.Allow(context.Background(), "payments"))
}

func (s *BreakerTestSuite) TestAllow_StaysClosedBelowThreshold() {
	ctx := context.Background()

	for range 4 {
		s.breaker.RecordFailure(ctx, "payments")
	}

	s.Require().True(s.breaker.Allow(ctx, "payments"))
}

func (s *BreakerTestSuite) TestAllow_OpensAtThreshold() {
	ctx := context.Background()

	for range 5 {
		s.breaker.RecordFailure(ctx, "payments")
	}

	s.Require().False(s.breaker.Allow(ctx, "payments"))
}

func (s *BreakerTestSuite) TestAllow_RecoverySequence() {
	ctx := context.Background()

	for range 5 {
		s.breaker.RecordFailure(ctx, "payments")
	}

	s.Require().False(s.breaker.Allow(ctx, "payments"))

	// Recovery timeout elapses: one trial call is permitted (half-open),
	// and the next arrival closes the circuit with failures cleared.
	s.current = s.current.Add(61 * time.Second)

	s.Require().True(s.breaker.Allow(ctx, "payments"))
	s.Require().True(s.breaker.Allow(ctx, "payments"))

	_, err := s.client.Get(ctx, "circuit:payments:failures")
	s.Require().Error(err, "failure counter should be cleared after recovery")
}

func (s *BreakerTestSuite) TestAllow_RejectedBeforeRecoveryTimeout() {
	ctx := context.Background()

	for range 5 {
		s.breaker.RecordFailure(ctx, "payments")
	}

	s.current = s.current.Add(59 * time.Second)

	s.Require().False(s.breaker.Allow(ctx, "payments"))
}

func (s *BreakerTestSuite) TestAllow_ReopensWhenTrialFails() {
	ctx := context.Background()

	for range 5 {
		s.breaker.RecordFailure(ctx, "payments")
	}

	s.current = s.current.Add(61 * time.Second)
	s.Require().True(s.breaker.Allow(ctx, "payments"))

	// The trial fails five more times; the circuit opens again.
	for range 5 {
		s.breaker.RecordFailure(ctx, "payments")
	}

	s.Require().False(s.breaker.Allow(ctx, "payments"))
}

func (s *BreakerTestSuite) TestAllow_ServicesAreIndependent() {
	ctx := context.Background()

	for range 5 {
		s.breaker.RecordFailure(ctx, "payments")
	}

	s.Require().False(s.breaker.Allow(ctx, "payments"))
	s.Require().True(s.breaker.Allow(ctx, "transcripts"))
}

func (s *BreakerTestSuite) TestAllow_FailsOpenWhenStoreDown() {
	ctx := context.Background()

	s.miniRedis.Close()
	s.miniRedis = nil

	s.Require().True(s.breaker.Allow(ctx, "payments"))
}

func (s *BreakerTestSuite) TestExecute_PassesThroughResult() {
	ctx := context.Background()

	result, err := circuitbreaker.Execute(ctx, s.breaker, "payments", func(context.Context) (string, error) {
		return "charged", nil
	})

	s.Require().NoError(err)
	s.Require().Equal("charged", result)
}

func (s *BreakerTestSuite) TestExecute_RecordsFailuresAndTrips() {
	ctx := context.Background()
	callErr := errors.New("downstream timeout")

	for range 5 {
		_, err := circuitbreaker.Execute(ctx, s.breaker, "payments", func(context.Context) (string, error) {
			return "", callErr
		})
		s.Require().ErrorIs(err, callErr)
	}

	_, err := circuitbreaker.Execute(ctx, s.breaker, "payments", func(context.Context) (string, error) {
		s.FailNow("fn must not run while the circuit is open")

		return "", nil
	})

	s.Require().ErrorIs(err, circuitbreaker.ErrCircuitOpen)
}
