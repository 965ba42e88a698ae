package models

import "time"

// OverrideType names the kind of operator pin.
type OverrideType string

const (
	OverrideForceSchedule    OverrideType = "force_schedule"
	OverridePreventSchedule  OverrideType = "prevent_schedule"
	OverridePreferredTeacher OverrideType = "preferred_teacher"
	OverridePreferredTime    OverrideType = "preferred_time"
	OverrideClassSize        OverrideType = "class_size"
)

// OverrideParams carries the type-specific values of an override.
type OverrideParams struct {
	TeacherID   string `json:"teacher_id,omitempty" yaml:"teacher_id"`
	SlotID      string `json:"slot_id,omitempty" yaml:"slot_id"`
	MaxStudents int    `json:"max_students,omitempty" yaml:"max_students"`
}

// SchedulingOverride is one append-only entry of a class's override history.
type SchedulingOverride struct {
	ID        string         `json:"id"`
	ClassID   string         `json:"class_id"`
	Type      OverrideType   `json:"type" validate:"required,oneof=force_schedule prevent_schedule preferred_teacher preferred_time class_size"`
	Reason    string         `json:"reason"`
	Priority  Urgency        `json:"priority,omitempty"`
	Params    OverrideParams `json:"params"`
	AppliedBy string         `json:"applied_by"`
	AppliedAt time.Time      `json:"applied_at"`
}

// BlockedAssignment is a (teacher, slot) pair no run may use.
type BlockedAssignment struct {
	TeacherID string `json:"teacher_id"`
	SlotID    string `json:"slot_id"`
}
