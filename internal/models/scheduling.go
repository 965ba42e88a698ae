package models

import "time"

// Pace classifies how quickly a student moves through the curriculum.
type Pace string

const (
	PaceFast   Pace = "fast"
	PaceNormal Pace = "normal"
	PaceSlow   Pace = "slow"
)

// Rank orders paces for averaging. Unknown paces count as normal.
func (p Pace) Rank() int {
	switch p {
	case PaceFast:
		return 3
	case PaceSlow:
		return 1
	default:
		return 2
	}
}

// PaceFromRank converts an averaged rank back into a pace.
func PaceFromRank(rank float64) Pace {
	switch {
	case rank >= 2.5:
		return PaceFast
	case rank < 1.5:
		return PaceSlow
	default:
		return PaceNormal
	}
}

// Urgency bands attached to unlearned content.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

var urgencyOrder = []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyUrgent}

// Level returns 0 (low) through 3 (urgent).
func (u Urgency) Level() int {
	for i, candidate := range urgencyOrder {
		if candidate == u {
			return i
		}
	}
	return 0
}

// Raise moves the urgency up by n bands, capped at urgent.
func (u Urgency) Raise(n int) Urgency {
	level := u.Level() + n
	if level >= len(urgencyOrder) {
		level = len(urgencyOrder) - 1
	}
	if level < 0 {
		level = 0
	}
	return urgencyOrder[level]
}

// ClassType distinguishes group classes from 1-on-1 sessions.
type ClassType string

const (
	ClassTypeIndividual ClassType = "individual"
	ClassTypeGroup      ClassType = "group"
)

// ClassStatus is the lifecycle state of a scheduled class.
type ClassStatus string

const (
	ClassStatusProposed   ClassStatus = "proposed"
	ClassStatusConfirmed  ClassStatus = "confirmed"
	ClassStatusOverridden ClassStatus = "overridden"
	ClassStatusCancelled  ClassStatus = "cancelled"
)

// CurriculumPosition locates a student or content item in the course sequence.
type CurriculumPosition struct {
	Unit   int `json:"unit" yaml:"unit"`
	Lesson int `json:"lesson" yaml:"lesson"`
}

// Index flattens the position for distance calculations.
func (p CurriculumPosition) Index() int {
	return p.Unit*1000 + p.Lesson
}

// Before reports whether p comes strictly before other.
func (p CurriculumPosition) Before(other CurriculumPosition) bool {
	if p.Unit != other.Unit {
		return p.Unit < other.Unit
	}
	return p.Lesson < other.Lesson
}

// Course carries the class size policy for a course type.
type Course struct {
	ID             string `db:"id" json:"id" yaml:"id"`
	Type           string `db:"course_type" json:"course_type" yaml:"course_type"`
	Name           string `db:"name" json:"name" yaml:"name"`
	MinClassSize   int    `db:"min_class_size" json:"min_class_size" yaml:"min_class_size"`
	MaxClassSize   int    `db:"max_class_size" json:"max_class_size" yaml:"max_class_size"`
	IdealClassSize int    `db:"ideal_class_size" json:"ideal_class_size" yaml:"ideal_class_size"`
}

// Ideal returns the configured ideal size or the midpoint of the bounds.
func (c Course) Ideal() int {
	if c.IdealClassSize > 0 {
		return c.IdealClassSize
	}
	return (c.MinClassSize + c.MaxClassSize + 1) / 2
}

// Student is the scheduling view of a learner.
type Student struct {
	ID               string             `json:"id" yaml:"id"`
	Name             string             `json:"name" yaml:"name"`
	CourseTypes      []string           `json:"course_types" yaml:"course_types"`
	Position         CurriculumPosition `json:"position" yaml:"position"`
	Pace             Pace               `json:"pace" yaml:"pace"`
	MasteredTopics   []string           `json:"mastered_topics,omitempty" yaml:"mastered_topics"`
	StrugglingTopics []string           `json:"struggling_topics,omitempty" yaml:"struggling_topics"`
	PreferredWindows []TimeWindow       `json:"preferred_windows,omitempty" yaml:"preferred_windows"`
}

// ContentItem is a unit of curriculum. Immutable during a run.
type ContentItem struct {
	ID               string             `json:"id" yaml:"id"`
	CourseType       string             `json:"course_type" yaml:"course_type"`
	Title            string             `json:"title" yaml:"title"`
	Topic            string             `json:"topic,omitempty" yaml:"topic"`
	Difficulty       int                `json:"difficulty" yaml:"difficulty"`
	Position         CurriculumPosition `json:"position" yaml:"position"`
	EstimatedMinutes int                `json:"estimated_minutes" yaml:"estimated_minutes"`
	Prerequisites    []string           `json:"prerequisites,omitempty" yaml:"prerequisites"`
	DueAt            *time.Time         `json:"due_at,omitempty" yaml:"due_at"`
}

// ProgressRecord is one entry of a student's completion history.
type ProgressRecord struct {
	StudentID   string    `db:"student_id" json:"student_id" yaml:"student_id"`
	ContentID   string    `db:"content_id" json:"content_id" yaml:"content_id"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at" yaml:"completed_at"`
	Passed      bool      `db:"passed" json:"passed" yaml:"passed"`
	Attempts    int       `db:"attempts" json:"attempts" yaml:"attempts"`
}

// UnlearnedItem is a content item queued for a student with its urgency.
type UnlearnedItem struct {
	Content          ContentItem `json:"content"`
	Urgency          Urgency     `json:"urgency"`
	PreviouslyFailed bool        `json:"previously_failed"`
	PrerequisitesMet bool        `json:"prerequisites_met"`
}

// UnlearnedContentBundle is the per-run queue of content a student still needs.
type UnlearnedContentBundle struct {
	StudentID string          `json:"student_id"`
	Items     []UnlearnedItem `json:"items"`
}

// Head returns the first item, optionally the first whose prerequisites are met.
func (b *UnlearnedContentBundle) Head(enforceSequencing bool) *UnlearnedItem {
	if b == nil {
		return nil
	}
	for i := range b.Items {
		if !enforceSequencing || b.Items[i].PrerequisitesMet {
			return &b.Items[i]
		}
	}
	return nil
}

// Certification allows a teacher to teach a course type up to a difficulty level.
type Certification struct {
	CourseType string `json:"course_type" yaml:"course_type"`
	MaxLevel   int    `json:"max_level" yaml:"max_level"`
}

// Teacher is the resource-model view of an instructor.
type Teacher struct {
	ID                string          `json:"id" yaml:"id"`
	Name              string          `json:"name" yaml:"name"`
	Certifications    []Certification `json:"certifications" yaml:"certifications"`
	Availability      []TimeWindow    `json:"availability" yaml:"availability"`
	AssignedHours     float64         `json:"assigned_hours" yaml:"assigned_hours"`
	TargetWeeklyHours float64         `json:"target_weekly_hours" yaml:"target_weekly_hours"`
}

// CertifiedFor reports whether the teacher may teach courseType at level.
func (t Teacher) CertifiedFor(courseType string, level int) bool {
	for _, cert := range t.Certifications {
		if cert.CourseType == courseType && cert.MaxLevel >= level {
			return true
		}
	}
	return false
}

// Room is a bookable location.
type Room struct {
	ID      string       `json:"id" yaml:"id"`
	Name    string       `json:"name" yaml:"name"`
	Windows []TimeWindow `json:"windows,omitempty" yaml:"windows"`
}

// Capacity bounds the number of students a slot can hold.
type Capacity struct {
	Min               int `json:"min" yaml:"min"`
	Max               int `json:"max" yaml:"max"`
	CurrentEnrollment int `json:"current_enrollment" yaml:"current_enrollment"`
}

// Free returns the remaining capacity.
func (c Capacity) Free() int {
	free := c.Max - c.CurrentEnrollment
	if free < 0 {
		return 0
	}
	return free
}

// TimeSlot is the atomic bookable resource.
type TimeSlot struct {
	ID        string    `json:"id" yaml:"id"`
	DayOfWeek int       `json:"day_of_week" yaml:"day_of_week"`
	Start     ClockTime `json:"start" yaml:"start"`
	End       ClockTime `json:"end" yaml:"end"`
	RoomID    string    `json:"room_id" yaml:"room_id"`
	Capacity  Capacity  `json:"capacity" yaml:"capacity"`
}

// DurationMinutes returns the slot length.
func (s TimeSlot) DurationMinutes() int {
	return int(s.End - s.Start)
}

// Hours returns the slot length in hours.
func (s TimeSlot) Hours() float64 {
	return float64(s.DurationMinutes()) / 60
}

// Overlaps reports whether two slots share time on the same day.
func (s TimeSlot) Overlaps(other TimeSlot) bool {
	return Overlaps(s.DayOfWeek, s.Start, s.End, other.DayOfWeek, other.Start, other.End)
}

// ScoreBreakdown records the per-goal components behind a class's confidence.
type ScoreBreakdown struct {
	ContentPriority     float64 `json:"content_priority"`
	TeacherUtilization  float64 `json:"teacher_utilization"`
	StudentSatisfaction float64 `json:"student_satisfaction"`
	ClassSize           float64 `json:"class_size"`
}

// Alternative is a runner-up assignment the optimizer considered.
type Alternative struct {
	TeacherID string  `json:"teacher_id"`
	SlotID    string  `json:"slot_id"`
	Score     float64 `json:"score"`
}

// ScheduledClass is a group of students assigned to a teacher and slot.
type ScheduledClass struct {
	ID              string         `json:"id"`
	CourseID        string         `json:"course_id"`
	CourseType      string         `json:"course_type"`
	ContentID       string         `json:"content_id,omitempty"`
	Difficulty      int            `json:"difficulty,omitempty"`
	GroupID         string         `json:"group_id,omitempty"`
	TeacherID       string         `json:"teacher_id"`
	StudentIDs      []string       `json:"student_ids"`
	Slot            TimeSlot       `json:"slot"`
	ClassType       ClassType      `json:"class_type"`
	ConfidenceScore float64        `json:"confidence_score"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	Rationale       string         `json:"rationale"`
	Alternatives    []Alternative  `json:"alternatives,omitempty"`
	Status          ClassStatus    `json:"status"`
	Suspended       bool           `json:"suspended,omitempty"`
	RunID           string         `json:"run_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Active reports whether the class holds resources.
func (c ScheduledClass) Active() bool {
	return c.Status != ClassStatusCancelled && !c.Suspended
}

// Pinned reports whether the optimizer must leave the class untouched.
func (c ScheduledClass) Pinned() bool {
	return c.Status == ClassStatusConfirmed || c.Status == ClassStatusOverridden
}

// Clone returns a deep copy.
func (c ScheduledClass) Clone() ScheduledClass {
	clone := c
	clone.StudentIDs = append([]string(nil), c.StudentIDs...)
	clone.Alternatives = append([]Alternative(nil), c.Alternatives...)
	return clone
}

// HasStudent reports whether the student attends the class.
func (c ScheduledClass) HasStudent(studentID string) bool {
	for _, id := range c.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}
