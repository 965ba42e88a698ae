package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

type memoryCacheRepo struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	failGet error
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if m.failGet != nil {
		return m.failGet
	}
	raw, ok := m.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	m.ttls[key] = ttl
	return nil
}

func TestCacheServiceRunMetricsRoundTrip(t *testing.T) {
	repo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, time.Minute, zap.NewNop(), true)
	ctx := context.Background()

	_, hit := svc.RunMetrics(ctx, "run-1")
	assert.False(t, hit)

	svc.CacheRunMetrics(ctx, "run-1", models.PerformanceMetrics{ClassesScheduled: 3, SuccessRate: 0.75})
	assert.Equal(t, time.Minute, repo.ttls[RunMetricsKey("run-1")])

	cached, hit := svc.RunMetrics(ctx, "run-1")
	require.True(t, hit)
	assert.Equal(t, 3, cached.ClassesScheduled)
	assert.Equal(t, 0.75, cached.SuccessRate)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCacheRepo()
	svc := NewCacheService(repo, nil, 0, nil, false)
	assert.False(t, svc.Enabled())

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
	_, hit := nilSvc.RunMetrics(context.Background(), "run-1")
	assert.False(t, hit)

	svc.CacheRunMetrics(context.Background(), "run-1", models.PerformanceMetrics{ClassesScheduled: 1})
	assert.Empty(t, repo.data)
}

func TestCacheServiceDefaultTTL(t *testing.T) {
	repo := newMemoryCacheRepo()
	svc := NewCacheService(repo, nil, 0, nil, true)

	svc.CacheRunMetrics(context.Background(), "run-2", models.PerformanceMetrics{})
	assert.Equal(t, 10*time.Minute, repo.ttls[RunMetricsKey("run-2")])
}

func TestCacheServiceTreatsBackendErrorsAsMiss(t *testing.T) {
	repo := newMemoryCacheRepo()
	repo.failGet = errors.New("connection refused")
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 0, zap.NewNop(), true)

	cached, hit := svc.RunMetrics(context.Background(), "run-1")
	assert.False(t, hit)
	assert.Nil(t, cached)
	assert.Equal(t, uint64(1), metrics.Snapshot().CacheMisses)
}
