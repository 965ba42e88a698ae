package models

import "time"

// OptimizationGoal names a soft objective the optimizer maximises.
type OptimizationGoal string

const (
	GoalContentPriority     OptimizationGoal = "content_priority"
	GoalTeacherUtilization  OptimizationGoal = "teacher_utilization"
	GoalStudentSatisfaction OptimizationGoal = "student_satisfaction"
	GoalClassSize           OptimizationGoal = "class_size_optimization"
)

// AllGoals lists the supported goals in their canonical order.
var AllGoals = []OptimizationGoal{GoalContentPriority, GoalTeacherUtilization, GoalStudentSatisfaction, GoalClassSize}

// GoalWeight pairs a goal with a weight. A zero weight means the goal is ranked by position.
type GoalWeight struct {
	Goal   OptimizationGoal `json:"goal" yaml:"goal" validate:"required,oneof=content_priority teacher_utilization student_satisfaction class_size_optimization"`
	Weight float64          `json:"weight" yaml:"weight" validate:"min=0"`
}

// SchedulingConstraints toggles the optional hard constraints of a run.
type SchedulingConstraints struct {
	HonorTeacherAvailability bool `json:"honor_teacher_availability" yaml:"honor_teacher_availability"`
	HonorRoomAvailability    bool `json:"honor_room_availability" yaml:"honor_room_availability"`
	EnforceContentSequencing bool `json:"enforce_content_sequencing" yaml:"enforce_content_sequencing"`
	AvoidStudentConflicts    bool `json:"avoid_student_conflicts" yaml:"avoid_student_conflicts"`
}

// DefaultConstraints enables every constraint.
func DefaultConstraints() SchedulingConstraints {
	return SchedulingConstraints{
		HonorTeacherAvailability: true,
		HonorRoomAvailability:    true,
		EnforceContentSequencing: true,
		AvoidStudentConflicts:    true,
	}
}

// TimeRange bounds the planning horizon of a run.
type TimeRange struct {
	From time.Time `json:"from" yaml:"from"`
	To   time.Time `json:"to" yaml:"to"`
}

// SchedulingRequest describes one scheduling run.
type SchedulingRequest struct {
	CourseType      string                `json:"course_type" yaml:"course_type" validate:"required"`
	TimeRange       TimeRange             `json:"time_range" yaml:"time_range"`
	StudentIDs      []string              `json:"student_ids,omitempty" yaml:"student_ids" validate:"omitempty,dive,required"`
	Goals           []GoalWeight          `json:"goals,omitempty" yaml:"goals" validate:"omitempty,dive"`
	Constraints     SchedulingConstraints `json:"constraints" yaml:"constraints"`
	IterationBudget int                   `json:"iteration_budget,omitempty" yaml:"iteration_budget" validate:"min=0,max=1000"`
	RequestedBy     string                `json:"requested_by,omitempty" yaml:"requested_by"`
}

// PerformanceMetrics summarises a completed run.
type PerformanceMetrics struct {
	ProcessingTimeMs         int64   `json:"processing_time_ms"`
	StudentsProcessed        int     `json:"students_processed"`
	ClassesScheduled         int     `json:"classes_scheduled"`
	ConflictsDetected        int     `json:"conflicts_detected"`
	ConflictsResolved        int     `json:"conflicts_resolved"`
	SuccessRate              float64 `json:"success_rate"`
	ResourceUtilization      float64 `json:"resource_utilization"`
	StudentSatisfactionScore float64 `json:"student_satisfaction_score"`
	TeacherSatisfactionScore float64 `json:"teacher_satisfaction_score"`
	IterationsPerformed      int     `json:"iterations_performed"`
	OptimizationImprovements int     `json:"optimization_improvements"`
}

// SchedulingResult is the output of a run.
type SchedulingResult struct {
	RunID                 string                     `json:"run_id"`
	CourseType            string                     `json:"course_type"`
	Classes               []ScheduledClass           `json:"classes"`
	UnscheduledStudentIDs []string                   `json:"unscheduled_student_ids"`
	CompletedStudentIDs   []string                   `json:"completed_student_ids,omitempty"`
	OptimizationScore     float64                    `json:"optimization_score"`
	Metrics               PerformanceMetrics         `json:"metrics"`
	Conflicts             []SchedulingConflict       `json:"conflicts"`
	Recommendations       []SchedulingRecommendation `json:"recommendations"`
	SnapshotVersion       int64                      `json:"snapshot_version"`
	CommittedVersion      int64                      `json:"committed_version"`
}
