package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// CacheRepository stores JSON payloads with an expiry. A missing key is ErrCacheMiss.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

const runCachePrefix = "scheduling:runs:"

// RunMetricsKey is the cache key of a run's performance metrics.
func RunMetricsKey(runID string) string {
	return runCachePrefix + runID + ":metrics"
}

// CacheService keeps the performance metrics of finished runs so they survive the
// in-process run registry being pruned or the process restarting.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

func NewCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// CacheRunMetrics stores the metrics of a completed run. Failures are logged, not returned.
func (s *CacheService) CacheRunMetrics(ctx context.Context, runID string, metrics models.PerformanceMetrics) {
	if !s.Enabled() {
		return
	}
	key := RunMetricsKey(runID)
	start := time.Now()
	err := s.repo.Set(ctx, key, metrics, s.ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		s.logger.Warn("caching run metrics failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// RunMetrics loads cached run metrics, reporting whether the cache held them. Backend
// failures count as misses so callers fall back to the run registry.
func (s *CacheService) RunMetrics(ctx context.Context, runID string) (*models.PerformanceMetrics, bool) {
	if !s.Enabled() {
		return nil, false
	}

	var metrics models.PerformanceMetrics
	start := time.Now()
	err := s.repo.Get(ctx, RunMetricsKey(runID), &metrics)
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	}
	switch {
	case err == nil:
		return &metrics, true
	case !errors.Is(err, appErrors.ErrCacheMiss):
		s.logger.Warn("reading cached run metrics failed", zap.String("run_id", runID), zap.Error(err))
	}
	return nil, false
}
