package pop

import (
	"context"
	"fmt"

	"github.com/kioskly/popserver/internal/metrics"
	"github.com/kioskly/popserver/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RollupService recomputes the daily rollup wholesale and mirrors the fresh
// per-org/day totals into Redis for cheap dashboard reads. Redis is
// optional; the recompute alone is the source of truth.
type RollupService struct {
	store   storage.RollupStore
	redis   *redis.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewRollupService(store storage.RollupStore, redisClient *redis.Client, logger *zap.Logger, m *metrics.Metrics) *RollupService {
	return &RollupService{
		store:   store,
		redis:   redisClient,
		logger:  logger,
		metrics: m,
	}
}

// Refresh recomputes plays_daily and mirrors the result to Redis.
func (s *RollupService) Refresh(ctx context.Context) error {
	rollups, err := s.store.RefreshDaily(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRollupRefresh(false)
		}
		return fmt.Errorf("daily rollup refresh: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordRollupRefresh(true)
	}

	if s.redis != nil {
		s.mirror(ctx, rollups)
	}

	s.logger.Debug("daily rollup refreshed", zap.Int("rows", len(rollups)))
	return nil
}

// mirror writes per-org/day counters. A Redis failure only costs the cache.
func (s *RollupService) mirror(ctx context.Context, rollups []storage.DailyRollup) {
	pipe := s.redis.Pipeline()
	for _, ru := range rollups {
		pipe.Set(ctx, fmt.Sprintf("stats:plays:%s:%s", ru.OrgID, ru.Day), ru.Plays, 0)
		pipe.Set(ctx, fmt.Sprintf("stats:playtime:%s:%s", ru.OrgID, ru.Day), ru.TotalDurationSec, 0)
		pipe.Set(ctx, fmt.Sprintf("stats:screens:%s:%s", ru.OrgID, ru.Day), ru.UniqueKiosks, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("failed to mirror rollup to redis", zap.Error(err))
	}
}

// DailyPlays reads a mirrored per-day play count. Returns 0 when the key is
// absent or Redis is not configured.
func (s *RollupService) DailyPlays(ctx context.Context, orgID, day string) int64 {
	if s.redis == nil {
		return 0
	}
	n, _ := s.redis.Get(ctx, fmt.Sprintf("stats:plays:%s:%s", orgID, day)).Int64()
	return n
}
