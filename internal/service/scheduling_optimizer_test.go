package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

func mondaySlot(id string, hour int, room string) models.TimeSlot {
	return models.TimeSlot{
		ID:        id,
		DayOfWeek: 1,
		Start:     models.NewClockTime(hour, 0),
		End:       models.NewClockTime(hour+1, 0),
		RoomID:    room,
		Capacity:  models.Capacity{Min: 1, Max: 8},
	}
}

func mathTeacher(id string) models.Teacher {
	return models.Teacher{
		ID:                id,
		Certifications:    []models.Certification{{CourseType: "math", MaxLevel: 5}},
		Availability:      []models.TimeWindow{{DayOfWeek: 1, Start: models.NewClockTime(8, 0), End: models.NewClockTime(17, 0)}},
		TargetWeeklyHours: 10,
	}
}

func mathGroup(id string, urgency models.Urgency, students ...string) models.StudentGroup {
	classType := models.ClassTypeGroup
	if len(students) == 1 {
		classType = models.ClassTypeIndividual
	}
	return models.StudentGroup{
		ID:         id,
		CourseType: "math",
		Key:        "c1",
		Head:       models.ContentItem{ID: "c1", CourseType: "math", Difficulty: 1},
		Urgency:    urgency,
		StudentIDs: students,
		ClassType:  classType,
	}
}

func baseOptimizerInput() OptimizerInput {
	return OptimizerInput{
		Request:  models.SchedulingRequest{CourseType: "math", Constraints: models.DefaultConstraints()},
		Course:   models.Course{ID: "math", Type: "math", MinClassSize: 1, MaxClassSize: 6},
		Teachers: []models.Teacher{mathTeacher("t1")},
		Rooms:    []models.Room{{ID: "r1"}},
		Slots:    []models.TimeSlot{mondaySlot("mon-10", 10, "r1"), mondaySlot("mon-09", 9, "r1")},
		Weights:  DefaultGoalWeights(),
	}
}

func TestSchedulingOptimizerNeverDoubleBooks(t *testing.T) {
	in := baseOptimizerInput()
	in.Groups = []models.StudentGroup{
		mathGroup("g1", models.UrgencyMedium, "a", "b"),
		mathGroup("g2", models.UrgencyMedium, "c", "d"),
		mathGroup("g3", models.UrgencyMedium, "e", "f"),
	}

	out, err := NewSchedulingOptimizer(0, 0).Optimize(context.Background(), in, nil)
	require.NoError(t, err)

	require.Len(t, out.Assignments, 2)
	slots := map[string]bool{}
	for _, a := range out.Assignments {
		assert.False(t, slots[a.Slot.ID], "slot %s booked twice", a.Slot.ID)
		slots[a.Slot.ID] = true
		assert.Equal(t, "t1", a.TeacherID)
	}
	require.Len(t, out.Deferred, 1)
	assert.Equal(t, "g3", out.Deferred[0].Group.ID)
	assert.Equal(t, []string{DeferResourcesBooked}, out.Deferred[0].Reasons)
	assert.Equal(t, []string{"t1"}, out.Deferred[0].CertifiedTeachers)
	assert.GreaterOrEqual(t, out.Iterations, 1)
}

func TestSchedulingOptimizerPlacesUrgentGroupsFirst(t *testing.T) {
	in := baseOptimizerInput()
	in.Slots = []models.TimeSlot{mondaySlot("mon-09", 9, "r1")}
	in.Groups = []models.StudentGroup{
		mathGroup("big", models.UrgencyLow, "a", "b", "c"),
		mathGroup("small", models.UrgencyUrgent, "d"),
	}

	out, err := NewSchedulingOptimizer(0, 0).Optimize(context.Background(), in, nil)
	require.NoError(t, err)

	require.Len(t, out.Assignments, 1)
	assert.Equal(t, "small", out.Assignments[0].Group.ID)
	require.Len(t, out.Deferred, 1)
	assert.Equal(t, "big", out.Deferred[0].Group.ID)
}

func TestSchedulingOptimizerFollowsStudentPreferences(t *testing.T) {
	in := baseOptimizerInput()
	prefers := []models.TimeWindow{{DayOfWeek: 1, Start: models.NewClockTime(10, 0), End: models.NewClockTime(11, 0)}}
	in.Students = map[string]models.Student{
		"a": {ID: "a", PreferredWindows: prefers},
		"b": {ID: "b", PreferredWindows: prefers},
	}
	in.Groups = []models.StudentGroup{mathGroup("g1", models.UrgencyMedium, "a", "b")}

	out, err := NewSchedulingOptimizer(0, 0).Optimize(context.Background(), in, nil)
	require.NoError(t, err)

	require.Len(t, out.Assignments, 1)
	assignment := out.Assignments[0]
	assert.Equal(t, "mon-10", assignment.Slot.ID)
	assert.InDelta(t, 1.0, assignment.Breakdown.StudentSatisfaction, 1e-9)
	require.Len(t, assignment.Alternatives, 1)
	assert.Equal(t, "mon-09", assignment.Alternatives[0].SlotID)
	assert.Less(t, assignment.Alternatives[0].Score, assignment.Score)
}

func TestSchedulingOptimizerHonoursBlocksAndCertification(t *testing.T) {
	in := baseOptimizerInput()
	in.Blocks = []models.BlockedAssignment{{TeacherID: "t1", SlotID: "mon-09"}}
	hard := mathGroup("hard", models.UrgencyHigh, "z")
	hard.Head.Difficulty = 9
	in.Groups = []models.StudentGroup{mathGroup("g1", models.UrgencyMedium, "a", "b"), hard}

	out, err := NewSchedulingOptimizer(0, 0).Optimize(context.Background(), in, nil)
	require.NoError(t, err)

	require.Len(t, out.Assignments, 1)
	assert.Equal(t, "mon-10", out.Assignments[0].Slot.ID)
	require.Len(t, out.Deferred, 1)
	assert.Equal(t, "hard", out.Deferred[0].Group.ID)
	assert.Contains(t, out.Deferred[0].Reasons, DeferNoCertifiedTeacher)
}

func TestSchedulingOptimizerRespectsFixedClasses(t *testing.T) {
	in := baseOptimizerInput()
	in.Fixed = []models.ScheduledClass{{
		ID:         "fixed",
		CourseType: "math",
		TeacherID:  "t1",
		StudentIDs: []string{"x"},
		Slot:       mondaySlot("mon-09", 9, "r1"),
		Status:     models.ClassStatusConfirmed,
	}}
	in.Groups = []models.StudentGroup{mathGroup("g1", models.UrgencyMedium, "a", "b")}

	out, err := NewSchedulingOptimizer(0, 0).Optimize(context.Background(), in, nil)
	require.NoError(t, err)
	require.Len(t, out.Assignments, 1)
	assert.Equal(t, "mon-10", out.Assignments[0].Slot.ID)
}

func TestSchedulingOptimizerStudentConflictsFollowConstraint(t *testing.T) {
	build := func(avoid bool) OptimizerInput {
		in := baseOptimizerInput()
		in.Request.Constraints.AvoidStudentConflicts = avoid
		in.Teachers = []models.Teacher{mathTeacher("t1"), mathTeacher("t2")}
		in.Rooms = []models.Room{{ID: "r1"}, {ID: "r2"}}
		in.Slots = []models.TimeSlot{mondaySlot("mon-09-b", 9, "r2")}
		in.Fixed = []models.ScheduledClass{{
			ID:         "fixed",
			CourseType: "math",
			TeacherID:  "t1",
			StudentIDs: []string{"a"},
			Slot:       mondaySlot("mon-09", 9, "r1"),
			Status:     models.ClassStatusConfirmed,
		}}
		in.Groups = []models.StudentGroup{mathGroup("g1", models.UrgencyMedium, "a", "b")}
		return in
	}

	out, err := NewSchedulingOptimizer(0, 0).Optimize(context.Background(), build(true), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Assignments)
	require.Len(t, out.Deferred, 1)

	out, err = NewSchedulingOptimizer(0, 0).Optimize(context.Background(), build(false), nil)
	require.NoError(t, err)
	require.Len(t, out.Assignments, 1)
	assert.Equal(t, "mon-09-b", out.Assignments[0].Slot.ID)
	assert.Equal(t, "t2", out.Assignments[0].TeacherID)
}

func TestSchedulingOptimizerDefersOversizedGroup(t *testing.T) {
	in := baseOptimizerInput()
	in.Slots = []models.TimeSlot{mondaySlot("mon-09", 9, "r1")}
	in.Slots[0].Capacity.Max = 1
	in.Groups = []models.StudentGroup{mathGroup("g1", models.UrgencyMedium, "a", "b")}

	out, err := NewSchedulingOptimizer(0, 0).Optimize(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Assignments)
	require.Len(t, out.Deferred, 1)
	assert.Equal(t, []string{DeferCapacity}, out.Deferred[0].Reasons)
	assert.Equal(t, 0.0, out.OptimizationScore)
}

func TestSchedulingOptimizerReportsProgressAndCancellation(t *testing.T) {
	in := baseOptimizerInput()
	in.Groups = []models.StudentGroup{mathGroup("g1", models.UrgencyMedium, "a", "b")}
	in.Request.IterationBudget = 3

	var calls [][2]int
	_, err := NewSchedulingOptimizer(0, 0).Optimize(context.Background(), in, func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})
	require.NoError(t, err)
	require.NotEmpty(t, calls)
	assert.Equal(t, [2]int{0, 3}, calls[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSchedulingOptimizer(0, 0).Optimize(ctx, in, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrRunCancelled))
}

func TestSchedulingOptimizerEmptyInputScoresFull(t *testing.T) {
	out, err := NewSchedulingOptimizer(0, 0).Optimize(context.Background(), baseOptimizerInput(), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Assignments)
	assert.Equal(t, 100.0, out.OptimizationScore)
}

func TestResolveGoalWeights(t *testing.T) {
	defaults := DefaultGoalWeights()

	got := ResolveGoalWeights(nil, defaults)
	assert.InDelta(t, 1.0, got.ContentPriority+got.TeacherUtilization+got.StudentSatisfaction+got.ClassSize, 1e-9)
	assert.InDelta(t, 0.35, got.ContentPriority, 1e-9)

	ordered := ResolveGoalWeights([]models.GoalWeight{
		{Goal: models.GoalClassSize},
		{Goal: models.GoalContentPriority},
	}, defaults)
	assert.InDelta(t, 2.0/3, ordered.ClassSize, 1e-9)
	assert.InDelta(t, 1.0/3, ordered.ContentPriority, 1e-9)
	assert.Zero(t, ordered.TeacherUtilization)

	explicit := ResolveGoalWeights([]models.GoalWeight{
		{Goal: models.GoalStudentSatisfaction, Weight: 3},
		{Goal: models.GoalClassSize, Weight: 1},
	}, defaults)
	assert.InDelta(t, 0.75, explicit.StudentSatisfaction, 1e-9)
	assert.InDelta(t, 0.25, explicit.ClassSize, 1e-9)

	assert.Equal(t, defaults.Normalized(), GoalWeights{}.Normalized())
}

func TestClassSizeScorePeaksAtIdeal(t *testing.T) {
	course := models.Course{MinClassSize: 2, MaxClassSize: 6}
	assert.InDelta(t, 1.0, classSizeScore(4, course), 1e-9)
	assert.Less(t, classSizeScore(6, course), classSizeScore(5, course))
	assert.Less(t, classSizeScore(2, course), classSizeScore(3, course))
}
