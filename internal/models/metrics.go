package models

import "time"

// ServiceMetrics is a JSON snapshot of the process counters.
type ServiceMetrics struct {
	RunsStarted              uint64    `json:"runs_started"`
	RunsCompleted            uint64    `json:"runs_completed"`
	RunsFailed               uint64    `json:"runs_failed"`
	StaleCommits             uint64    `json:"stale_commits"`
	ConflictsDetected        uint64    `json:"conflicts_detected"`
	OverridesApplied         uint64    `json:"overrides_applied"`
	AverageRunDurationMs     float64   `json:"average_run_duration_ms"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
