package service

import (
	"math"
	"time"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// resolvedFeasibility is the feasibility a conflict's best resolution needs to count as resolved.
const resolvedFeasibility = 0.5

// AggregationInput is the read-only outcome of one run.
type AggregationInput struct {
	Duration          time.Duration
	StudentsProcessed int
	Classes           []models.ScheduledClass
	Unscheduled       []string
	Conflicts         []models.SchedulingConflict
	Slots             []models.TimeSlot
	Iterations        int
	Improvements      int
}

// MetricsAggregator derives PerformanceMetrics by counting and averaging.
type MetricsAggregator struct{}

// NewMetricsAggregator constructs a MetricsAggregator.
func NewMetricsAggregator() *MetricsAggregator {
	return &MetricsAggregator{}
}

// Aggregate summarises a run. It never mutates its input.
func (a *MetricsAggregator) Aggregate(in AggregationInput) models.PerformanceMetrics {
	metrics := models.PerformanceMetrics{
		ProcessingTimeMs:         in.Duration.Milliseconds(),
		StudentsProcessed:        in.StudentsProcessed,
		ConflictsDetected:        len(in.Conflicts),
		IterationsPerformed:      in.Iterations,
		OptimizationImprovements: in.Improvements,
		SuccessRate:              1,
	}

	for _, conflict := range in.Conflicts {
		if len(conflict.Resolutions) > 0 && conflict.Resolutions[0].FeasibilityScore >= resolvedFeasibility {
			metrics.ConflictsResolved++
		}
	}

	if in.StudentsProcessed > 0 {
		scheduled := in.StudentsProcessed - len(in.Unscheduled)
		if scheduled < 0 {
			scheduled = 0
		}
		metrics.SuccessRate = round4(float64(scheduled) / float64(in.StudentsProcessed))
	}

	usedSlots := make(map[string]struct{})
	var satisfaction, teacher float64
	for _, class := range in.Classes {
		if !class.Active() {
			continue
		}
		metrics.ClassesScheduled++
		usedSlots[class.Slot.ID] = struct{}{}
		satisfaction += class.Breakdown.StudentSatisfaction
		teacher += class.Breakdown.TeacherUtilization
	}
	if len(in.Slots) > 0 {
		metrics.ResourceUtilization = round4(float64(len(usedSlots)) / float64(len(in.Slots)))
	}
	if metrics.ClassesScheduled > 0 {
		metrics.StudentSatisfactionScore = round4(satisfaction / float64(metrics.ClassesScheduled))
		metrics.TeacherSatisfactionScore = round4(teacher / float64(metrics.ClassesScheduled))
	}
	return metrics
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
