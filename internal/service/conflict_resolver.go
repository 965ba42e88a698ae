package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

const pinnedFeasibilityFactor = 0.5

// ResolutionContext is the resource view used to search for concrete fixes.
type ResolutionContext struct {
	Classes     []models.ScheduledClass
	Teachers    []models.Teacher
	Rooms       []models.Room
	Slots       []models.TimeSlot
	Content     []models.ContentItem
	Students    map[string]models.Student
	Mastered    map[string]map[string]bool
	Constraints models.SchedulingConstraints
}

// ConflictResolver proposes ranked resolutions for detected conflicts.
type ConflictResolver struct{}

// NewConflictResolver constructs a ConflictResolver.
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{}
}

type resolutionSearch struct {
	ctx      ResolutionContext
	classes  map[string]models.ScheduledClass
	teachers []models.Teacher
	slots    []models.TimeSlot
	rooms    map[string]models.Room
	content  map[string]models.ContentItem
	index    *bookingIndex
	load     map[string]float64
}

func newResolutionSearch(ctx ResolutionContext) *resolutionSearch {
	active := activeClasses(ctx.Classes)
	s := &resolutionSearch{
		ctx:      ctx,
		classes:  make(map[string]models.ScheduledClass, len(active)),
		teachers: sortedTeachers(ctx.Teachers),
		slots:    sortedSlots(ctx.Slots),
		rooms:    make(map[string]models.Room, len(ctx.Rooms)),
		content:  make(map[string]models.ContentItem, len(ctx.Content)),
		index:    newBookingIndex(active),
		load:     teacherLoad(ctx.Teachers, active),
	}
	for _, class := range active {
		s.classes[class.ID] = class
	}
	for _, room := range ctx.Rooms {
		s.rooms[room.ID] = room
	}
	for _, item := range ctx.Content {
		s.content[item.ID] = item
	}
	return s
}

// ResolveAll attaches ranked resolutions to each conflict.
func (r *ConflictResolver) ResolveAll(conflicts []models.SchedulingConflict, ctx ResolutionContext) []models.SchedulingConflict {
	search := newResolutionSearch(ctx)
	out := make([]models.SchedulingConflict, len(conflicts))
	for i, conflict := range conflicts {
		conflict.Resolutions = r.resolve(search, conflict)
		out[i] = conflict
	}
	return out
}

// Resolve returns resolutions for one conflict, best first.
func (r *ConflictResolver) Resolve(conflict models.SchedulingConflict, ctx ResolutionContext) []models.Resolution {
	return r.resolve(newResolutionSearch(ctx), conflict)
}

func (r *ConflictResolver) resolve(search *resolutionSearch, conflict models.SchedulingConflict) []models.Resolution {
	target, ok := search.movable(conflict.ClassIDs)
	if !ok {
		return []models.Resolution{}
	}

	var resolutions []models.Resolution
	switch conflict.Type {
	case models.ConflictTeacherUnavailable:
		resolutions = append(resolutions, search.reassignTeacher(target)...)
		resolutions = append(resolutions, search.shiftTime(target)...)
	case models.ConflictRoomDoubleBooked:
		resolutions = append(resolutions, search.moveRoom(target)...)
		resolutions = append(resolutions, search.shiftTime(target)...)
	case models.ConflictStudentDoubleBooked:
		resolutions = append(resolutions, search.removeStudents(target, conflict.StudentIDs, 0.7, "attends an overlapping class")...)
		resolutions = append(resolutions, search.shiftTime(target)...)
	case models.ConflictCapacityExceeded:
		resolutions = append(resolutions, search.splitGroup(target)...)
		excess := len(target.StudentIDs) - target.Slot.Capacity.Max
		if excess > 0 {
			removed := append([]string(nil), target.StudentIDs[len(target.StudentIDs)-excess:]...)
			resolutions = append(resolutions, search.removeStudents(target, removed, 0.5, "exceeds capacity")...)
		}
	case models.ConflictContentSequencing:
		resolutions = append(resolutions, search.removeStudents(target, conflict.StudentIDs, 0.65, "is missing prerequisites")...)
	}

	if len(resolutions) == 0 {
		resolutions = append(resolutions, search.manualSlot(target))
	}

	if target.Status == models.ClassStatusOverridden {
		for i := range resolutions {
			resolutions[i].FeasibilityScore *= pinnedFeasibilityFactor
		}
	}
	rankResolutions(resolutions)
	return resolutions
}

func rankResolutions(resolutions []models.Resolution) {
	sort.SliceStable(resolutions, func(i, j int) bool {
		a, b := resolutions[i], resolutions[j]
		if math.Abs(a.FeasibilityScore-b.FeasibilityScore) > scoreEpsilon {
			return a.FeasibilityScore > b.FeasibilityScore
		}
		if a.Impact.Disruption() != b.Impact.Disruption() {
			return a.Impact.Disruption() < b.Impact.Disruption()
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Description < b.Description
	})
}

func movability(status models.ClassStatus) int {
	switch status {
	case models.ClassStatusProposed:
		return 2
	case models.ClassStatusConfirmed:
		return 1
	default:
		return 0
	}
}

// movable picks the class a fix should move: proposed before confirmed before
// overridden, then the later id.
func (s *resolutionSearch) movable(ids []string) (models.ScheduledClass, bool) {
	var best models.ScheduledClass
	found := false
	for _, id := range ids {
		class, ok := s.classes[id]
		if !ok {
			continue
		}
		if !found || movability(class.Status) > movability(best.Status) || (movability(class.Status) == movability(best.Status) && class.ID > best.ID) {
			best = class
			found = true
		}
	}
	return best, found
}

func (s *resolutionSearch) difficulty(class models.ScheduledClass) int {
	if item, ok := s.content[class.ContentID]; ok {
		return item.Difficulty
	}
	return class.Difficulty
}

func (s *resolutionSearch) teacherAvailable(t models.Teacher, slot models.TimeSlot) bool {
	if !s.ctx.Constraints.HonorTeacherAvailability {
		return true
	}
	return models.WindowsContain(t.Availability, slot.DayOfWeek, slot.Start, slot.End)
}

func (s *resolutionSearch) roomOpen(slot models.TimeSlot) bool {
	if !s.ctx.Constraints.HonorRoomAvailability {
		return true
	}
	room, ok := s.rooms[slot.RoomID]
	if !ok {
		return false
	}
	return len(room.Windows) == 0 || models.WindowsContain(room.Windows, slot.DayOfWeek, slot.Start, slot.End)
}

func (s *resolutionSearch) teacherByID(id string) (models.Teacher, bool) {
	for _, t := range s.teachers {
		if t.ID == id {
			return t, true
		}
	}
	return models.Teacher{}, false
}

func (s *resolutionSearch) projectedUtilization(teacherID string, extraHours float64) float64 {
	teacher, ok := s.teacherByID(teacherID)
	if !ok || teacher.TargetWeeklyHours <= 0 {
		return 0
	}
	return clamp01((s.load[teacherID] + extraHours) / teacher.TargetWeeklyHours)
}

func disruptionScore(students, teachers, classSize int) float64 {
	denominator := classSize + 2
	if denominator < 1 {
		denominator = 1
	}
	return clamp01(float64(students+teachers) / float64(denominator))
}

func (s *resolutionSearch) reassignTeacher(class models.ScheduledClass) []models.Resolution {
	level := s.difficulty(class)
	var best *models.Teacher
	for i := range s.teachers {
		t := s.teachers[i]
		if t.ID == class.TeacherID || !t.CertifiedFor(class.CourseType, level) {
			continue
		}
		if !s.teacherAvailable(t, class.Slot) || !s.index.teacherFree(t.ID, class.Slot, class.ID) {
			continue
		}
		if best == nil || s.load[t.ID] < s.load[best.ID] {
			best = &s.teachers[i]
		}
	}
	if best == nil {
		return nil
	}
	students := len(class.StudentIDs)
	return []models.Resolution{{
		Type:        models.ResolutionReassignTeacher,
		Description: fmt.Sprintf("reassign class %s from teacher %s to %s", class.ID, class.TeacherID, best.ID),
		Impact: models.ResolutionImpact{
			AffectedStudents:      students,
			AffectedTeachers:      2,
			DisruptionScore:       disruptionScore(students, 2, students),
			ProjectedUtilization:  s.projectedUtilization(best.ID, class.Slot.Hours()),
			ProjectedSatisfaction: preferenceFit(class.StudentIDs, s.ctx.Students, class.Slot),
		},
		FeasibilityScore: 0.85,
		EstimatedMinutes: 15,
		Steps: []string{
			fmt.Sprintf("confirm %s can take the session", best.ID),
			fmt.Sprintf("apply a preferred_teacher override on %s", class.ID),
			"notify affected students of the teacher change",
		},
		Params: models.RecommendationParams{ClassID: class.ID, CourseType: class.CourseType, TeacherID: best.ID},
	}}
}

// freeSlot finds the first slot other than the class's own where teacher, room and
// students are all free. sameTime restricts the search to other rooms at the same time.
func (s *resolutionSearch) freeSlot(class models.ScheduledClass, teacherID string, studentIDs []string, sameTime bool) (models.TimeSlot, bool) {
	teacher, ok := s.teacherByID(teacherID)
	if !ok {
		return models.TimeSlot{}, false
	}
	for _, slot := range s.slots {
		if slot.ID == class.Slot.ID {
			continue
		}
		if sameTime && (slot.DayOfWeek != class.Slot.DayOfWeek || slot.Start != class.Slot.Start || slot.End != class.Slot.End || slot.RoomID == class.Slot.RoomID) {
			continue
		}
		if len(studentIDs) > slot.Capacity.Free() {
			continue
		}
		if !s.teacherAvailable(teacher, slot) || !s.roomOpen(slot) {
			continue
		}
		if !s.index.canPlace(teacherID, slot, studentIDs, class.ID) {
			continue
		}
		return slot, true
	}
	return models.TimeSlot{}, false
}

func (s *resolutionSearch) shiftTime(class models.ScheduledClass) []models.Resolution {
	slot, ok := s.freeSlot(class, class.TeacherID, class.StudentIDs, false)
	if !ok {
		return nil
	}
	students := len(class.StudentIDs)
	return []models.Resolution{{
		Type:        models.ResolutionShiftTime,
		Description: fmt.Sprintf("move class %s to slot %s (day %d %s-%s)", class.ID, slot.ID, slot.DayOfWeek, slot.Start, slot.End),
		Impact: models.ResolutionImpact{
			AffectedStudents:      students,
			AffectedTeachers:      1,
			DisruptionScore:       disruptionScore(students, 1, students),
			ProjectedUtilization:  s.projectedUtilization(class.TeacherID, 0),
			ProjectedSatisfaction: preferenceFit(class.StudentIDs, s.ctx.Students, slot),
		},
		FeasibilityScore: 0.8,
		EstimatedMinutes: 20,
		Steps: []string{
			fmt.Sprintf("apply a preferred_time override moving %s to %s", class.ID, slot.ID),
			"notify the teacher and students of the new time",
		},
		Params: models.RecommendationParams{ClassID: class.ID, CourseType: class.CourseType, SlotID: slot.ID},
	}}
}

func (s *resolutionSearch) moveRoom(class models.ScheduledClass) []models.Resolution {
	slot, ok := s.freeSlot(class, class.TeacherID, class.StudentIDs, true)
	if !ok {
		return nil
	}
	students := len(class.StudentIDs)
	return []models.Resolution{{
		Type:        models.ResolutionMoveRoom,
		Description: fmt.Sprintf("move class %s to room %s at the same time", class.ID, slot.RoomID),
		Impact: models.ResolutionImpact{
			AffectedStudents:      students,
			AffectedTeachers:      0,
			DisruptionScore:       disruptionScore(students, 0, students),
			ProjectedUtilization:  s.projectedUtilization(class.TeacherID, 0),
			ProjectedSatisfaction: preferenceFit(class.StudentIDs, s.ctx.Students, slot),
		},
		FeasibilityScore: 0.9,
		EstimatedMinutes: 10,
		Steps: []string{
			fmt.Sprintf("apply a preferred_time override moving %s to slot %s", class.ID, slot.ID),
			fmt.Sprintf("announce the room change to %s", slot.RoomID),
		},
		Params: models.RecommendationParams{ClassID: class.ID, CourseType: class.CourseType, SlotID: slot.ID},
	}}
}

func (s *resolutionSearch) splitGroup(class models.ScheduledClass) []models.Resolution {
	if len(class.StudentIDs) < 2 {
		return nil
	}
	half := len(class.StudentIDs) / 2
	moved := append([]string(nil), class.StudentIDs[half:]...)
	feasibility := 0.3
	params := models.RecommendationParams{ClassID: class.ID, CourseType: class.CourseType, StudentIDs: moved}
	description := fmt.Sprintf("split class %s and open a second session for %d students", class.ID, len(moved))
	if slot, ok := s.freeSlot(class, class.TeacherID, moved, false); ok {
		feasibility = 0.6
		params.TeacherID = class.TeacherID
		params.SlotID = slot.ID
		description = fmt.Sprintf("split class %s moving %d students to slot %s", class.ID, len(moved), slot.ID)
	}
	return []models.Resolution{{
		Type:        models.ResolutionSplitGroup,
		Description: description,
		Impact: models.ResolutionImpact{
			AffectedStudents:     len(moved),
			AffectedTeachers:     1,
			DisruptionScore:      disruptionScore(len(moved), 1, len(class.StudentIDs)),
			ProjectedUtilization: s.projectedUtilization(class.TeacherID, class.Slot.Hours()),
		},
		FeasibilityScore: feasibility,
		EstimatedMinutes: 45,
		Steps: []string{
			"choose the students for the second session",
			"create the second session",
			fmt.Sprintf("apply a class_size override on %s", class.ID),
		},
		Params: params,
	}}
}

func (s *resolutionSearch) removeStudents(class models.ScheduledClass, studentIDs []string, feasibility float64, why string) []models.Resolution {
	var removed []string
	for _, id := range studentIDs {
		if class.HasStudent(id) {
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	sort.Strings(removed)
	return []models.Resolution{{
		Type:        models.ResolutionRemoveStudent,
		Description: fmt.Sprintf("remove %d student(s) from class %s: student %s", len(removed), class.ID, why),
		Impact: models.ResolutionImpact{
			AffectedStudents:      len(removed),
			DisruptionScore:       disruptionScore(len(removed), 0, len(class.StudentIDs)),
			ProjectedUtilization:  s.projectedUtilization(class.TeacherID, 0),
			ProjectedSatisfaction: preferenceFit(class.StudentIDs, s.ctx.Students, class.Slot),
		},
		FeasibilityScore: feasibility,
		EstimatedMinutes: 10,
		Steps: []string{
			fmt.Sprintf("remove %v from %s", removed, class.ID),
			"requeue the removed students for the next scheduling run",
		},
		Params: models.RecommendationParams{ClassID: class.ID, CourseType: class.CourseType, StudentIDs: removed},
	}}
}

// manualSlot is the fallback when no concrete candidate exists.
func (s *resolutionSearch) manualSlot(class models.ScheduledClass) models.Resolution {
	students := len(class.StudentIDs)
	return models.Resolution{
		Type:        models.ResolutionShiftTime,
		Description: fmt.Sprintf("no free slot exists for class %s; open an additional slot or extend availability", class.ID),
		Impact: models.ResolutionImpact{
			AffectedStudents: students,
			AffectedTeachers: 1,
			DisruptionScore:  disruptionScore(students, 1, students),
		},
		FeasibilityScore: 0.1,
		EstimatedMinutes: 60,
		Steps: []string{
			"add a time slot or extend teacher availability",
			"re-run scheduling for the course",
		},
		Params: models.RecommendationParams{ClassID: class.ID, CourseType: class.CourseType},
	}
}
