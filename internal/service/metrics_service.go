package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
// All methods are safe on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	runsTotal         *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	optimizationScore *prometheus.GaugeVec
	conflictsTotal    *prometheus.CounterVec
	unscheduledTotal  *prometheus.CounterVec
	overridesTotal    *prometheus.CounterVec
	staleCommits      prometheus.Counter
	bulkItems         *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	runStartedCount      uint64
	runCompletedCount    uint64
	runFailedCount       uint64
	runDurationTotal     uint64
	runFinishedCount     uint64
	staleCount           uint64
	conflictCount        uint64
	overrideCount        uint64
}

const metricsNamespace = "class_scheduler"

// NewMetricsService registers the HTTP, cache and scheduler collectors on a private
// registry alongside the Go runtime and process collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: metricsNamespace}),
	)
	factory := promauto.With(registry)
	httpLabels := []string{"method", "route", "status"}

	m := &MetricsService{
		registry: registry,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "Duration of HTTP requests by route", Buckets: prometheus.DefBuckets,
		}, httpLabels),
		requestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status",
		}, httpLabels),

		cacheLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "read_seconds",
			Help: "Latency of run metrics cache reads", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		cacheWrite: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "write_seconds",
			Help: "Latency of run metrics cache writes", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		cacheHitRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "hit_ratio",
			Help: "Hits over lookups since start",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "hits_total", Help: "Run metrics cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "misses_total", Help: "Run metrics cache misses",
		}),

		dbQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "postgres", Name: "query_duration_seconds",
			Help: "Duration of resource model transactions", Buckets: prometheus.DefBuckets,
		}, []string{"query"}),

		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "runs_total",
			Help: "Scheduling runs by trigger and final status",
		}, []string{"trigger", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "run_duration_seconds",
			Help:    "Wall time of scheduling runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"trigger"}),
		optimizationScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "optimization_score",
			Help: "Optimization score of the latest completed run per course type",
		}, []string{"course_type"}),
		conflictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "conflicts_detected_total",
			Help: "Conflicts reported by the detector",
		}, []string{"type"}),
		unscheduledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "unscheduled_students_total",
			Help: "Students left unscheduled by completed runs",
		}, []string{"course_type"}),
		overridesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "overrides_total",
			Help: "Overrides applied by type",
		}, []string{"type"}),
		staleCommits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "stale_commits_total",
			Help: "Run commits rejected because the resource model changed",
		}),
		bulkItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "bulk_items_total",
			Help: "Bulk operation items by type and outcome",
		}, []string{"type", "outcome"}),
	}
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records one request against its route template.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, route, code).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	m.cacheHitRatio.Set(ratio(atomic.LoadUint64(&m.cacheHitCount), atomic.LoadUint64(&m.cacheMissCount)))
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// --- scheduler ---

// RunStarted counts a run picked up by a worker.
func (m *MetricsService) RunStarted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.runStartedCount, 1)
}

// ObserveRun records the final status of a run.
func (m *MetricsService) ObserveRun(trigger models.RunTrigger, status models.RunStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(trigger), string(status)).Inc()
	m.runDuration.WithLabelValues(string(trigger)).Observe(duration.Seconds())
	atomic.AddUint64(&m.runFinishedCount, 1)
	atomic.AddUint64(&m.runDurationTotal, uint64(duration.Nanoseconds()))
	switch status {
	case models.RunStatusCompleted:
		atomic.AddUint64(&m.runCompletedCount, 1)
	case models.RunStatusFailed:
		atomic.AddUint64(&m.runFailedCount, 1)
	}
}

// ObserveResult records the outcome of a committed run.
func (m *MetricsService) ObserveResult(result *models.SchedulingResult) {
	if m == nil || result == nil {
		return
	}
	m.optimizationScore.WithLabelValues(result.CourseType).Set(result.OptimizationScore)
	m.unscheduledTotal.WithLabelValues(result.CourseType).Add(float64(len(result.UnscheduledStudentIDs)))
	for _, conflict := range result.Conflicts {
		m.conflictsTotal.WithLabelValues(string(conflict.Type)).Inc()
	}
	atomic.AddUint64(&m.conflictCount, uint64(len(result.Conflicts)))
}

// RecordStaleCommit counts a rejected CAS commit.
func (m *MetricsService) RecordStaleCommit() {
	if m == nil {
		return
	}
	m.staleCommits.Inc()
	atomic.AddUint64(&m.staleCount, 1)
}

// RecordOverride counts an applied override.
func (m *MetricsService) RecordOverride(kind string) {
	if m == nil {
		return
	}
	m.overridesTotal.WithLabelValues(kind).Inc()
	atomic.AddUint64(&m.overrideCount, 1)
}

// RecordBulkItem counts one bulk sub-operation.
func (m *MetricsService) RecordBulkItem(kind models.BulkOperationType, ok bool) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if !ok {
		outcome = "failed"
	}
	m.bulkItems.WithLabelValues(string(kind), outcome).Inc()
}

// Snapshot returns aggregated counters for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() models.ServiceMetrics {
	if m == nil {
		return models.ServiceMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)
	finished := atomic.LoadUint64(&m.runFinishedCount)
	runDuration := atomic.LoadUint64(&m.runDurationTotal)

	return models.ServiceMetrics{
		RunsStarted:              atomic.LoadUint64(&m.runStartedCount),
		RunsCompleted:            atomic.LoadUint64(&m.runCompletedCount),
		RunsFailed:               atomic.LoadUint64(&m.runFailedCount),
		StaleCommits:             atomic.LoadUint64(&m.staleCount),
		ConflictsDetected:        atomic.LoadUint64(&m.conflictCount),
		OverridesApplied:         atomic.LoadUint64(&m.overrideCount),
		AverageRunDurationMs:     averageMs(runDuration, finished),
		CacheHitRatio:            ratio(hits, misses),
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: averageMs(reqDuration, requests),
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: averageMs(dbDuration, dbCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func ratio(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func averageMs(totalNanos, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(totalNanos) / float64(count) / float64(time.Millisecond)
}
