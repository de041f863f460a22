package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/contractbridge/coordination/pkg/config"
	"github.com/contractbridge/coordination/pkg/health"
	"github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
	"github.com/stretchr/testify/suite"
)

type ProbeTestSuite struct {
	suite.Suite
	miniRedis *miniredis.Miniredis
	client    *store.Client
	probe     *health.Probe
}

func TestProbeTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(ProbeTestSuite))
}

func (s *ProbeTestSuite) SetupTest() {
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
	s.probe = health.NewProbe(s.client, logger.NewTestLogger())
}

func (s *ProbeTestSuite) TearDownTest() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.miniRedis != nil {
		s.miniRedis.Close()
	}
}

func (s *ProbeTestSuite) TestIsHealthy() {
	s.Require().True(s.probe.IsHealthy(context.Background()))
}

func (s *ProbeTestSuite) TestIsHealthy_StoreDown() {
	s.miniRedis.Close()
	s.miniRedis = nil

	s.Require().False(s.probe.IsHealthy(context.Background()))
}

func (s *ProbeTestSuite) TestReport() {
	report := s.probe.Report(context.Background())

	s.Require().True(report.Healthy)
	s.Require().Equal("connected", report.Store)
}

func (s *ProbeTestSuite) TestReport_StoreDown() {
	s.miniRedis.Close()
	s.miniRedis = nil

	report := s.probe.Report(context.Background())

	s.Require().False(report.Healthy)
	s.Require().Equal("disconnected", report.Store)
}

func (s *ProbeTestSuite) TestDiagnostics_StoreDown() {
	s.miniRedis.Close()
	s.miniRedis = nil

	_, err := s.probe.Diagnostics(context.Background())
	s.Require().Error(err)
}
