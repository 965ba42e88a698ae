package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

func resolverContext(classes ...models.ScheduledClass) ResolutionContext {
	return ResolutionContext{
		Classes:  classes,
		Teachers: []models.Teacher{mathTeacher("t1"), mathTeacher("t2")},
		Rooms:    []models.Room{{ID: "r1"}, {ID: "r2"}},
		Slots: []models.TimeSlot{
			mondaySlot("mon-09", 9, "r1"),
			mondaySlot("mon-09-b", 9, "r2"),
			mondaySlot("mon-10", 10, "r1"),
		},
		Content:     []models.ContentItem{{ID: "c1", CourseType: "math", Difficulty: 1}},
		Constraints: models.DefaultConstraints(),
	}
}

func TestConflictResolverMovesProposedClassToFreeRoom(t *testing.T) {
	confirmed := classAt("a", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusConfirmed, "s1")
	proposed := classAt("b", "t2", mondaySlot("mon-09", 9, "r1"), models.ClassStatusProposed, "s2")
	conflict := models.SchedulingConflict{Type: models.ConflictRoomDoubleBooked, ClassIDs: []string{"a", "b"}}

	resolutions := NewConflictResolver().Resolve(conflict, resolverContext(confirmed, proposed))

	require.NotEmpty(t, resolutions)
	best := resolutions[0]
	assert.Equal(t, models.ResolutionMoveRoom, best.Type)
	assert.Equal(t, "b", best.Params.ClassID)
	assert.Equal(t, "mon-09-b", best.Params.SlotID)
	assert.InDelta(t, 0.9, best.FeasibilityScore, 1e-9)
	assert.Zero(t, best.Impact.AffectedTeachers)

	for i := 1; i < len(resolutions); i++ {
		assert.GreaterOrEqual(t, resolutions[i-1].FeasibilityScore, resolutions[i].FeasibilityScore)
	}
}

func TestConflictResolverReassignsDoubleBookedTeacher(t *testing.T) {
	first := classAt("a", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusConfirmed, "s1")
	second := classAt("b", "t1", mondaySlot("mon-09-b", 9, "r2"), models.ClassStatusProposed, "s2")
	conflict := models.SchedulingConflict{Type: models.ConflictTeacherUnavailable, ClassIDs: []string{"a", "b"}}

	resolutions := NewConflictResolver().Resolve(conflict, resolverContext(first, second))

	require.NotEmpty(t, resolutions)
	assert.Equal(t, models.ResolutionReassignTeacher, resolutions[0].Type)
	assert.Equal(t, "t2", resolutions[0].Params.TeacherID)
	assert.Equal(t, "b", resolutions[0].Params.ClassID)
}

func TestConflictResolverSplitsOverfullClass(t *testing.T) {
	slot := mondaySlot("mon-09", 9, "r1")
	slot.Capacity.Max = 2
	class := classAt("a", "t1", slot, models.ClassStatusProposed, "s1", "s2", "s3", "s4")
	conflict := models.SchedulingConflict{Type: models.ConflictCapacityExceeded, ClassIDs: []string{"a"}}

	resolutions := NewConflictResolver().Resolve(conflict, resolverContext(class))

	var types []models.ResolutionType
	for _, r := range resolutions {
		types = append(types, r.Type)
		if r.Type == models.ResolutionRemoveStudent {
			assert.Equal(t, []string{"s3", "s4"}, r.Params.StudentIDs)
		}
		if r.Type == models.ResolutionSplitGroup {
			assert.Equal(t, []string{"s3", "s4"}, r.Params.StudentIDs)
			assert.NotEmpty(t, r.Params.SlotID)
		}
	}
	assert.ElementsMatch(t, []models.ResolutionType{models.ResolutionSplitGroup, models.ResolutionRemoveStudent}, types)
}

func TestConflictResolverDiscountsOverriddenClasses(t *testing.T) {
	a := classAt("a", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusOverridden, "s1")
	b := classAt("b", "t2", mondaySlot("mon-09", 9, "r1"), models.ClassStatusOverridden, "s2")
	conflict := models.SchedulingConflict{Type: models.ConflictRoomDoubleBooked, ClassIDs: []string{"a", "b"}}

	resolutions := NewConflictResolver().Resolve(conflict, resolverContext(a, b))
	require.NotEmpty(t, resolutions)
	assert.Equal(t, models.ResolutionMoveRoom, resolutions[0].Type)
	assert.InDelta(t, 0.45, resolutions[0].FeasibilityScore, 1e-9)
}

func TestConflictResolverFallsBackToManualSlot(t *testing.T) {
	a := classAt("a", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusConfirmed, "s1")
	b := classAt("b", "t2", mondaySlot("mon-09", 9, "r1"), models.ClassStatusProposed, "s2")
	ctx := resolverContext(a, b)
	ctx.Slots = []models.TimeSlot{mondaySlot("mon-09", 9, "r1")}
	conflict := models.SchedulingConflict{Type: models.ConflictRoomDoubleBooked, ClassIDs: []string{"a", "b"}}

	resolutions := NewConflictResolver().Resolve(conflict, ctx)
	require.Len(t, resolutions, 1)
	assert.Equal(t, models.ResolutionShiftTime, resolutions[0].Type)
	assert.InDelta(t, 0.1, resolutions[0].FeasibilityScore, 1e-9)
	assert.Empty(t, resolutions[0].Params.SlotID)
}

func TestConflictResolverUnknownClassesYieldNothing(t *testing.T) {
	conflict := models.SchedulingConflict{Type: models.ConflictRoomDoubleBooked, ClassIDs: []string{"ghost"}}
	resolutions := NewConflictResolver().Resolve(conflict, resolverContext())
	assert.Empty(t, resolutions)
	assert.NotNil(t, resolutions)
}

func TestConflictResolverResolveAllKeepsOrder(t *testing.T) {
	a := classAt("a", "t1", mondaySlot("mon-09", 9, "r1"), models.ClassStatusProposed, "s1")
	b := classAt("b", "t2", mondaySlot("mon-09", 9, "r1"), models.ClassStatusProposed, "s2")
	conflicts := NewConflictDetector().Detect(DetectionInput{Classes: []models.ScheduledClass{a, b}})
	resolved := NewConflictResolver().ResolveAll(conflicts, resolverContext(a, b))

	require.Len(t, resolved, len(conflicts))
	for i := range conflicts {
		assert.Equal(t, conflicts[i].ID, resolved[i].ID)
		assert.NotEmpty(t, resolved[i].Resolutions)
	}
}
