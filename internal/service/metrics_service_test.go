package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()

	m.RunStarted()
	m.RunStarted()
	m.ObserveRun(models.TriggerManual, models.RunStatusCompleted, 20*time.Millisecond)
	m.ObserveRun(models.TriggerAutomatic, models.RunStatusFailed, 40*time.Millisecond)
	m.ObserveResult(&models.SchedulingResult{
		CourseType:            "math",
		OptimizationScore:     0.8,
		UnscheduledStudentIDs: []string{"s9"},
		Conflicts: []models.SchedulingConflict{
			{Type: models.ConflictCapacityExceeded},
			{Type: models.ConflictTeacherUnavailable},
		},
	})
	m.RecordStaleCommit()
	m.RecordOverride(string(models.OverridePreferredTeacher))
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.ObserveDBQuery("resource_model_commit", 4*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RunsStarted)
	assert.Equal(t, uint64(1), snap.RunsCompleted)
	assert.Equal(t, uint64(1), snap.RunsFailed)
	assert.Equal(t, uint64(1), snap.StaleCommits)
	assert.Equal(t, uint64(2), snap.ConflictsDetected)
	assert.Equal(t, uint64(1), snap.OverridesApplied)
	assert.InDelta(t, 30.0, snap.AverageRunDurationMs, 0.001)
	assert.InDelta(t, 1.0/3.0, snap.CacheHitRatio, 0.0001)
	assert.Equal(t, uint64(1), snap.DBQueryCount)
	assert.InDelta(t, 4.0, snap.AverageDBQueryDurationMs, 0.001)
}

func TestMetricsServiceExposition(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/scheduling/runs/:id", http.StatusOK, time.Millisecond)
	m.RecordBulkItem(models.BulkBatchSchedule, false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `class_scheduler_http_requests_total{method="GET",route="/api/v1/scheduling/runs/:id",status="200"} 1`)
	assert.Contains(t, body, `class_scheduler_bulk_items_total{outcome="failed",type="batch_schedule"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsServiceNilReceiver(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RecordStaleCommit()
		m.RecordCacheOperation(true, time.Millisecond)
		m.ObserveResult(&models.SchedulingResult{})
	})
	assert.Equal(t, models.ServiceMetrics{}, m.Snapshot())
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
