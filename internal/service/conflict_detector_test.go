package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

var detectorNow = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func classAt(id, teacherID string, slot models.TimeSlot, status models.ClassStatus, students ...string) models.ScheduledClass {
	return models.ScheduledClass{
		ID:         id,
		CourseType: "math",
		ContentID:  "c1",
		TeacherID:  teacherID,
		StudentIDs: students,
		Slot:       slot,
		ClassType:  models.ClassTypeGroup,
		Status:     status,
	}
}

func conflictTypes(conflicts []models.SchedulingConflict) []models.ConflictType {
	out := make([]models.ConflictType, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, c.Type)
	}
	return out
}

func TestConflictDetectorFindsDoubleBookedTeacher(t *testing.T) {
	conflicts := NewConflictDetector().Detect(DetectionInput{
		Classes: []models.ScheduledClass{
			classAt("b", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusProposed, "s1"),
			classAt("a", "t1", mondaySlot("mon-09-b", 9, "r2"), models.ClassStatusProposed, "s2"),
		},
		Now: detectorNow,
	})

	require.Len(t, conflicts, 1)
	conflict := conflicts[0]
	assert.Equal(t, models.ConflictTeacherUnavailable, conflict.Type)
	assert.Equal(t, models.SeverityHigh, conflict.Severity)
	assert.Equal(t, []string{"a", "b"}, conflict.ClassIDs)
	assert.Equal(t, []string{"t1"}, conflict.TeacherIDs)
	assert.Equal(t, detectorNow, conflict.DetectedAt)
	assert.NotEmpty(t, conflict.ID)
	assert.NotNil(t, conflict.Resolutions)
}

func TestConflictDetectorEscalatesWhenBothClassesOverridden(t *testing.T) {
	conflicts := NewConflictDetector().Detect(DetectionInput{
		Classes: []models.ScheduledClass{
			classAt("a", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusOverridden, "s1"),
			classAt("b", "t2", mondaySlot("mon-09", 9, "r1"), models.ClassStatusOverridden, "s2"),
		},
	})

	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictRoomDoubleBooked, conflicts[0].Type)
	assert.Equal(t, models.SeverityCritical, conflicts[0].Severity)
}

func TestConflictDetectorIgnoresAdjacentAndInactiveClasses(t *testing.T) {
	suspended := classAt("c", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusOverridden, "s1")
	suspended.Suspended = true
	conflicts := NewConflictDetector().Detect(DetectionInput{
		Classes: []models.ScheduledClass{
			classAt("a", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusProposed, "s1"),
			classAt("b", "t1", mondaySlot("mon-10", 10, "r1"), models.ClassStatusProposed, "s1"),
			classAt("d", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusCancelled, "s1"),
			suspended,
		},
	})
	assert.Empty(t, conflicts)
}

func TestConflictDetectorReportsStudentAndCapacityProblems(t *testing.T) {
	crowded := mondaySlot("mon-09", 9, "r1")
	crowded.Capacity.Max = 4
	conflicts := NewConflictDetector().Detect(DetectionInput{
		Classes: []models.ScheduledClass{
			classAt("a", "t1", crowded, models.ClassStatusProposed, "s1", "s2", "s3", "s4", "s5"),
			classAt("b", "t2", mondaySlot("mon-09-b", 9, "r2"), models.ClassStatusConfirmed, "s5"),
		},
	})

	require.Len(t, conflicts, 2)
	assert.ElementsMatch(t, []models.ConflictType{models.ConflictCapacityExceeded, models.ConflictStudentDoubleBooked}, conflictTypes(conflicts))
	for _, c := range conflicts {
		assert.Equal(t, models.SeverityHigh, c.Severity)
		switch c.Type {
		case models.ConflictCapacityExceeded:
			assert.Equal(t, []string{"a"}, c.ClassIDs)
		case models.ConflictStudentDoubleBooked:
			assert.Equal(t, []string{"s5"}, c.StudentIDs)
		}
	}
}

func TestConflictDetectorCapacitySeverityScalesWithExcess(t *testing.T) {
	slot := mondaySlot("mon-09", 9, "r1")
	slot.Capacity.Max = 10
	students := []string{"s01", "s02", "s03", "s04", "s05", "s06", "s07", "s08", "s09", "s10", "s11"}
	conflicts := NewConflictDetector().Detect(DetectionInput{
		Classes: []models.ScheduledClass{classAt("a", "t1", slot, models.ClassStatusProposed, students...)},
	})
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.SeverityMedium, conflicts[0].Severity)
}

func TestConflictDetectorChecksAvailabilityAndSequencing(t *testing.T) {
	teacher := mathTeacher("t1")
	teacher.Availability = []models.TimeWindow{{DayOfWeek: 2, Start: models.NewClockTime(9, 0), End: models.NewClockTime(12, 0)}}
	class := classAt("a", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusProposed, "s1", "s2", "s3")
	class.ContentID = "c2"

	in := DetectionInput{
		Classes:  []models.ScheduledClass{class},
		Teachers: []models.Teacher{teacher},
		Content: []models.ContentItem{
			{ID: "c1", CourseType: "math"},
			{ID: "c2", CourseType: "math", Prerequisites: []string{"c1"}},
		},
		Mastered: map[string]map[string]bool{"s1": {"c1": true}},
	}

	assert.Empty(t, NewConflictDetector().Detect(in))

	in.EnforceSequencing = true
	withoutAvailability := NewConflictDetector().Detect(in)
	require.Len(t, withoutAvailability, 1)
	sequencing := withoutAvailability[0]
	assert.Equal(t, models.ConflictContentSequencing, sequencing.Type)
	assert.Equal(t, models.SeverityMedium, sequencing.Severity)
	assert.Equal(t, []string{"s2", "s3"}, sequencing.StudentIDs)

	in.CheckAvailability = true
	conflicts := NewConflictDetector().Detect(in)
	require.Len(t, conflicts, 2)
	assert.ElementsMatch(t, []models.ConflictType{models.ConflictTeacherUnavailable, models.ConflictContentSequencing}, conflictTypes(conflicts))
}

func TestConflictDetectorIsDeterministic(t *testing.T) {
	in := DetectionInput{
		Classes: []models.ScheduledClass{
			classAt("a", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusProposed, "s1"),
			classAt("b", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusProposed, "s1"),
		},
		Now: detectorNow,
	}
	first := NewConflictDetector().Detect(in)
	second := NewConflictDetector().Detect(in)
	require.Len(t, first, 3)
	assert.Equal(t, first, second)
}
