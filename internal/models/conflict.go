package models

import "time"

// ConflictType classifies a resource violation.
type ConflictType string

const (
	ConflictTeacherUnavailable  ConflictType = "teacher_unavailable"
	ConflictRoomDoubleBooked    ConflictType = "room_double_booked"
	ConflictCapacityExceeded    ConflictType = "capacity_exceeded"
	ConflictContentSequencing   ConflictType = "content_sequencing_violation"
	ConflictStudentDoubleBooked ConflictType = "student_double_booked"
)

// Severity grades conflicts and risks.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Level returns 0 (low) through 3 (critical).
func (s Severity) Level() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the most severe of the given values, low when empty.
func MaxSeverity(values ...Severity) Severity {
	max := SeverityLow
	for _, v := range values {
		if v.Level() > max.Level() {
			max = v
		}
	}
	return max
}

// SchedulingConflict is a detected violation between classes or against a resource.
type SchedulingConflict struct {
	ID          string       `json:"id"`
	Type        ConflictType `json:"type"`
	Severity    Severity     `json:"severity"`
	ClassIDs    []string     `json:"class_ids"`
	TeacherIDs  []string     `json:"teacher_ids,omitempty"`
	RoomIDs     []string     `json:"room_ids,omitempty"`
	StudentIDs  []string     `json:"student_ids,omitempty"`
	Description string       `json:"description"`
	Resolutions []Resolution `json:"resolutions"`
	DetectedAt  time.Time    `json:"detected_at"`
}

// ResolutionType names a concrete fix.
type ResolutionType string

const (
	ResolutionReassignTeacher ResolutionType = "reassign_teacher"
	ResolutionShiftTime       ResolutionType = "shift_time"
	ResolutionMoveRoom        ResolutionType = "move_room"
	ResolutionSplitGroup      ResolutionType = "split_group"
	ResolutionRemoveStudent   ResolutionType = "remove_student"
)

// ResolutionImpact estimates the effect of applying a resolution.
type ResolutionImpact struct {
	AffectedStudents      int     `json:"affected_students"`
	AffectedTeachers      int     `json:"affected_teachers"`
	DisruptionScore       float64 `json:"disruption_score"`
	ProjectedUtilization  float64 `json:"projected_utilization"`
	ProjectedSatisfaction float64 `json:"projected_satisfaction"`
}

// Disruption is the tie-break measure used when ranking resolutions.
func (i ResolutionImpact) Disruption() int {
	return i.AffectedStudents + i.AffectedTeachers
}

// Resolution is one proposed fix for a conflict.
type Resolution struct {
	Type             ResolutionType       `json:"type"`
	Description      string               `json:"description"`
	Impact           ResolutionImpact     `json:"impact"`
	FeasibilityScore float64              `json:"feasibility_score"`
	EstimatedMinutes int                  `json:"estimated_minutes"`
	Steps            []string             `json:"steps"`
	Params           RecommendationParams `json:"params"`
}
