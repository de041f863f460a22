package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/contractbridge/coordination/pkg/cache"
	"github.com/contractbridge/coordination/pkg/config"
	"github.com/contractbridge/coordination/pkg/logger"
	"github.com/contractbridge/coordination/pkg/store"
	"github.com/stretchr/testify/suite"
)

type draftSummary struct {
	DraftID  string   `json:"draft_id"`
	Title    string   `json:"title"`
	Clauses  []string `json:"clauses"`
	Revision int      `json:"revision"`
}

type CacheTestSuite struct {
	suite.Suite
	miniRedis *miniredis.Miniredis
	client    *store.Client
	cache     *cache.Cache
}

func TestCacheTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(CacheTestSuite))
}

func (s *CacheTestSuite) SetupTest() {
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
	s.cache = cache.New(s.client, config.Cache{DefaultTTL: time.Hour}, logger.NewTestLogger())
}

func (s *CacheTestSuite) TearDownTest() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.miniRedis != nil {
		s.miniRedis.Close()
	}
}

func (s *CacheTestSuite) TestSetAndGet_RoundTrip() {
	ctx := context.Background()
	summary := draftSummary{
		DraftID:  "draft-42",
		Title:    "Mutual NDA",
		Clauses:  []string{"confidentiality", "term", "governing-law"},
		Revision: 3,
	}

	s.cache.Set(ctx, "draft:summary:42", summary, 0)

	var got draftSummary
	s.Require().True(s.cache.Get(ctx, "draft:summary:42", &got))
	s.Require().Equal(summary, got)
}

func (s *CacheTestSuite) TestGet_MissOnUnsetKey() {
	ctx := context.Background()

	var got draftSummary
	s.Require().False(s.cache.Get(ctx, "draft:summary:absent", &got))
}

func (s *CacheTestSuite) TestGet_MissAfterExpiry() {
	ctx := context.Background()

	s.cache.Set(ctx, "draft:summary:1", draftSummary{DraftID: "draft-1"}, 100*time.Millisecond)

	var got draftSummary
	s.Require().True(s.cache.Get(ctx, "draft:summary:1", &got))

	s.miniRedis.FastForward(200 * time.Millisecond)

	s.Require().False(s.cache.Get(ctx, "draft:summary:1", &got))
}

func (s *CacheTestSuite) TestGet_CorruptPayloadIsMiss() {
	ctx := context.Background()

	s.Require().NoError(s.miniRedis.Set("draft:summary:bad", "{not json"))

	var got draftSummary
	s.Require().False(s.cache.Get(ctx, "draft:summary:bad", &got))
}

func (s *CacheTestSuite) TestGet_StoreDownIsMiss() {
	ctx := context.Background()

	s.cache.Set(ctx, "draft:summary:9", draftSummary{DraftID: "draft-9"}, 0)
	s.miniRedis.Close()
	s.miniRedis = nil

	var got draftSummary
	s.Require().False(s.cache.Get(ctx, "draft:summary:9", &got))
}

func (s *CacheTestSuite) TestSet_DefaultTTLApplied() {
	ctx := context.Background()

	s.cache.Set(ctx, "draft:summary:7", draftSummary{DraftID: "draft-7"}, 0)

	ttl := s.client.TTL(ctx, "draft:summary:7")
	s.Require().Equal(time.Hour, ttl)
}

func (s *CacheTestSuite) TestInvalidate() {
	ctx := context.Background()

	s.cache.Set(ctx, "draft:summary:5", draftSummary{DraftID: "draft-5"}, 0)
	s.cache.Invalidate(ctx, "draft:summary:5")

	var got draftSummary
	s.Require().False(s.cache.Get(ctx, "draft:summary:5", &got))
}

func (s *CacheTestSuite) TestInvalidate_AbsentKeyIsNoop() {
	s.cache.Invalidate(context.Background(), "draft:summary:ghost")
}

func (s *CacheTestSuite) TestInvalidatePattern() {
	ctx := context.Background()

	s.cache.Set(ctx, "draft:summary:1", draftSummary{DraftID: "draft-1"}, 0)
	s.cache.Set(ctx, "draft:summary:2", draftSummary{DraftID: "draft-2"}, 0)
	s.cache.Set(ctx, "transcript:1", draftSummary{DraftID: "t-1"}, 0)

	deleted := s.cache.InvalidatePattern(ctx, "draft:summary:*")
	s.Require().Equal(int64(2), deleted)

	var got draftSummary
	s.Require().False(s.cache.Get(ctx, "draft:summary:1", &got))
	s.Require().True(s.cache.Get(ctx, "transcript:1", &got))
}

func (s *CacheTestSuite) TestGetOrLoad_LoadsOnceThenServesFromCache() {
	ctx := context.Background()
	loads := 0

	load := func(context.Context) (draftSummary, error) {
		loads++

		return draftSummary{DraftID: "draft-11", Revision: loads}, nil
	}

	first, err := cache.GetOrLoad(ctx, s.cache, "draft:summary:11", time.Hour, load)
	s.Require().NoError(err)
	s.Require().Equal(1, first.Revision)

	second, err := cache.GetOrLoad(ctx, s.cache, "draft:summary:11", time.Hour, load)
	s.Require().NoError(err)
	s.Require().Equal(1, second.Revision)
	s.Require().Equal(1, loads)
}

func (s *CacheTestSuite) TestGetOrLoad_LoadErrorPropagates() {
	ctx := context.Background()

	_, err := cache.GetOrLoad(ctx, s.cache, "draft:summary:13", time.Hour, func(context.Context) (draftSummary, error) {
		return draftSummary{}, errors.New("upstream unavailable")
	})

	s.Require().Error(err)
	s.Require().Contains(err.Error(), "upstream unavailable")
}
