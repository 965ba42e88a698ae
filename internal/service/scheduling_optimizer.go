package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

const (
	defaultOptimizationPasses = 5
	defaultMaxAlternatives    = 3
	scoreEpsilon              = 1e-9
)

// Deferral reasons reported for groups the optimizer could not place.
const (
	DeferNoCertifiedTeacher  = "no_certified_teacher"
	DeferTeacherAvailability = "teacher_availability"
	DeferRoomAvailability    = "room_availability"
	DeferCapacity            = "capacity"
	DeferBlockedByOverride   = "blocked_by_override"
	DeferResourcesBooked     = "resources_booked"
)

// --- goal weights ---

// GoalWeights weighs the four soft objectives.
type GoalWeights struct {
	ContentPriority     float64 `json:"content_priority"`
	TeacherUtilization  float64 `json:"teacher_utilization"`
	StudentSatisfaction float64 `json:"student_satisfaction"`
	ClassSize           float64 `json:"class_size_optimization"`
}

// DefaultGoalWeights returns the calibrated defaults.
func DefaultGoalWeights() GoalWeights {
	return GoalWeights{ContentPriority: 0.35, TeacherUtilization: 0.2, StudentSatisfaction: 0.3, ClassSize: 0.15}
}

func (w GoalWeights) total() float64 {
	return w.ContentPriority + w.TeacherUtilization + w.StudentSatisfaction + w.ClassSize
}

// Normalized rescales the weights to sum to 1. Zero weights fall back to the defaults.
func (w GoalWeights) Normalized() GoalWeights {
	total := w.total()
	if total <= 0 {
		return DefaultGoalWeights().Normalized()
	}
	return GoalWeights{
		ContentPriority:     w.ContentPriority / total,
		TeacherUtilization:  w.TeacherUtilization / total,
		StudentSatisfaction: w.StudentSatisfaction / total,
		ClassSize:           w.ClassSize / total,
	}
}

// Weight returns the weight for a goal.
func (w GoalWeights) Weight(goal models.OptimizationGoal) float64 {
	switch goal {
	case models.GoalContentPriority:
		return w.ContentPriority
	case models.GoalTeacherUtilization:
		return w.TeacherUtilization
	case models.GoalStudentSatisfaction:
		return w.StudentSatisfaction
	case models.GoalClassSize:
		return w.ClassSize
	}
	return 0
}

func (w *GoalWeights) set(goal models.OptimizationGoal, value float64) {
	switch goal {
	case models.GoalContentPriority:
		w.ContentPriority = value
	case models.GoalTeacherUtilization:
		w.TeacherUtilization = value
	case models.GoalStudentSatisfaction:
		w.StudentSatisfaction = value
	case models.GoalClassSize:
		w.ClassSize = value
	}
}

// Score combines a breakdown into a single value in [0,1].
func (w GoalWeights) Score(b models.ScoreBreakdown) float64 {
	return w.ContentPriority*b.ContentPriority +
		w.TeacherUtilization*b.TeacherUtilization +
		w.StudentSatisfaction*b.StudentSatisfaction +
		w.ClassSize*b.ClassSize
}

// ResolveGoalWeights derives weights from request goals. Explicit weights win; when every
// listed goal has a zero weight the list is treated as ordered, first goal heaviest.
func ResolveGoalWeights(goals []models.GoalWeight, defaults GoalWeights) GoalWeights {
	if len(goals) == 0 {
		return defaults.Normalized()
	}
	explicit := false
	for _, g := range goals {
		if g.Weight > 0 {
			explicit = true
			break
		}
	}
	var w GoalWeights
	for i, g := range goals {
		if explicit {
			w.set(g.Goal, g.Weight)
			continue
		}
		w.set(g.Goal, float64(len(goals)-i))
	}
	if w.total() <= 0 {
		return defaults.Normalized()
	}
	return w.Normalized()
}

// --- optimizer ---

// OptimizerInput is everything one optimization needs. Snapshot data is read-only.
type OptimizerInput struct {
	Request  models.SchedulingRequest
	Course   models.Course
	Groups   []models.StudentGroup
	Teachers []models.Teacher
	Rooms    []models.Room
	Slots    []models.TimeSlot
	// Fixed are active classes that keep their resources during this run.
	Fixed    []models.ScheduledClass
	Students map[string]models.Student
	Blocks   []models.BlockedAssignment
	Weights  GoalWeights
}

// Assignment places a group with a teacher in a slot.
type Assignment struct {
	Group        models.StudentGroup   `json:"group"`
	TeacherID    string                `json:"teacher_id"`
	Slot         models.TimeSlot       `json:"slot"`
	Score        float64               `json:"score"`
	Breakdown    models.ScoreBreakdown `json:"breakdown"`
	Alternatives []models.Alternative  `json:"alternatives"`
}

// DeferredGroup is a group with no feasible assignment.
type DeferredGroup struct {
	Group             models.StudentGroup `json:"group"`
	Reasons           []string            `json:"reasons"`
	CertifiedTeachers []string            `json:"certified_teachers"`
}

// OptimizerOutput is the optimizer's result.
type OptimizerOutput struct {
	Assignments       []Assignment    `json:"assignments"`
	Deferred          []DeferredGroup `json:"deferred"`
	OptimizationScore float64         `json:"optimization_score"`
	Iterations        int             `json:"iterations"`
	Improvements      int             `json:"improvements"`
}

// OptimizerProgress is called after the greedy phase and each improvement pass.
type OptimizerProgress func(completed, total int)

// SchedulingOptimizer assigns groups to (teacher, slot) pairs.
type SchedulingOptimizer struct {
	passes          int
	maxAlternatives int
}

// NewSchedulingOptimizer constructs an optimizer with a default pass budget.
func NewSchedulingOptimizer(passes, maxAlternatives int) *SchedulingOptimizer {
	if passes <= 0 {
		passes = defaultOptimizationPasses
	}
	if maxAlternatives <= 0 {
		maxAlternatives = defaultMaxAlternatives
	}
	return &SchedulingOptimizer{passes: passes, maxAlternatives: maxAlternatives}
}

// Optimize runs a greedy assignment followed by bounded local-improvement passes.
// Cancellation is honoured between passes only.
func (o *SchedulingOptimizer) Optimize(ctx context.Context, in OptimizerInput, progress OptimizerProgress) (*OptimizerOutput, error) {
	budget := in.Request.IterationBudget
	if budget <= 0 {
		budget = o.passes
	}
	if progress == nil {
		progress = func(int, int) {}
	}

	state := newOptimizerState(in)
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	state.greedy()
	progress(0, budget)

	out := &OptimizerOutput{}
	for pass := 1; pass <= budget; pass++ {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		improvements := state.improve()
		out.Iterations = pass
		out.Improvements += improvements
		progress(pass, budget)
		if improvements == 0 {
			break
		}
	}

	state.fill(out, o.maxAlternatives)
	return out, nil
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return appErrors.ErrRunCancelled.WithCause(err, "")
	}
	return nil
}

type placement struct {
	teacher int
	slot    int
}

type candidate struct {
	teacher int
	slot    int
}

type optimizerState struct {
	in       OptimizerInput
	weights  GoalWeights
	groups   []models.StudentGroup
	teachers []models.Teacher
	slots    []models.TimeSlot
	rooms    map[string]models.Room
	blocked  map[models.BlockedAssignment]struct{}
	index    *bookingIndex
	baseLoad map[string]float64

	candidates [][]candidate
	assigned   []*placement
}

func newOptimizerState(in OptimizerInput) *optimizerState {
	s := &optimizerState{
		in:       in,
		weights:  in.Weights.Normalized(),
		teachers: sortedTeachers(in.Teachers),
		slots:    sortedSlots(in.Slots),
		rooms:    make(map[string]models.Room, len(in.Rooms)),
		blocked:  make(map[models.BlockedAssignment]struct{}, len(in.Blocks)),
		index:    newBookingIndex(in.Fixed),
		baseLoad: teacherLoad(in.Teachers, in.Fixed),
	}
	for _, room := range in.Rooms {
		s.rooms[room.ID] = room
	}
	for _, b := range in.Blocks {
		s.blocked[b] = struct{}{}
	}

	s.groups = append([]models.StudentGroup(nil), in.Groups...)
	sort.SliceStable(s.groups, func(i, j int) bool {
		a, b := s.groups[i], s.groups[j]
		if a.Urgency.Level() != b.Urgency.Level() {
			return a.Urgency.Level() > b.Urgency.Level()
		}
		if a.Size() != b.Size() {
			return a.Size() > b.Size()
		}
		return a.ID < b.ID
	})

	s.candidates = make([][]candidate, len(s.groups))
	s.assigned = make([]*placement, len(s.groups))
	for gi := range s.groups {
		for ti := range s.teachers {
			for si := range s.slots {
				if s.eligible(gi, ti, si) {
					s.candidates[gi] = append(s.candidates[gi], candidate{teacher: ti, slot: si})
				}
			}
		}
	}
	return s
}

func groupOwner(group models.StudentGroup) string {
	return "group:" + group.ID
}

// eligible applies the static constraints that do not depend on other placements.
func (s *optimizerState) eligible(gi, ti, si int) bool {
	group := s.groups[gi]
	teacher := s.teachers[ti]
	slot := s.slots[si]
	constraints := s.in.Request.Constraints

	if !teacher.CertifiedFor(group.CourseType, group.Head.Difficulty) {
		return false
	}
	if constraints.HonorTeacherAvailability && !models.WindowsContain(teacher.Availability, slot.DayOfWeek, slot.Start, slot.End) {
		return false
	}
	if constraints.HonorRoomAvailability && !s.roomOpen(slot) {
		return false
	}
	if !capacityFits(group, slot) {
		return false
	}
	if _, blocked := s.blocked[models.BlockedAssignment{TeacherID: teacher.ID, SlotID: slot.ID}]; blocked {
		return false
	}
	return true
}

func (s *optimizerState) roomOpen(slot models.TimeSlot) bool {
	room, ok := s.rooms[slot.RoomID]
	if !ok {
		return false
	}
	if len(room.Windows) == 0 {
		return true
	}
	return models.WindowsContain(room.Windows, slot.DayOfWeek, slot.Start, slot.End)
}

func capacityFits(group models.StudentGroup, slot models.TimeSlot) bool {
	size := group.Size()
	if size > slot.Capacity.Free() {
		return false
	}
	if group.ClassType == models.ClassTypeGroup && size < slot.Capacity.Min {
		return false
	}
	return true
}

func (s *optimizerState) feasible(gi int, c candidate) bool {
	group := s.groups[gi]
	slot := s.slots[c.slot]
	owner := groupOwner(group)
	if !s.in.Request.Constraints.AvoidStudentConflicts {
		return s.index.teacherFree(s.teachers[c.teacher].ID, slot, owner) && s.index.roomFree(slot, owner)
	}
	return s.index.canPlace(s.teachers[c.teacher].ID, slot, group.StudentIDs, owner)
}

func (s *optimizerState) assign(gi int, c candidate) {
	group := s.groups[gi]
	s.index.place(groupOwner(group), s.teachers[c.teacher].ID, s.slots[c.slot], group.StudentIDs)
	s.assigned[gi] = &placement{teacher: c.teacher, slot: c.slot}
}

func (s *optimizerState) unassign(gi int) {
	current := s.assigned[gi]
	if current == nil {
		return
	}
	group := s.groups[gi]
	s.index.release(groupOwner(group), s.teachers[current.teacher].ID, s.slots[current.slot], group.StudentIDs)
	s.assigned[gi] = nil
}

// runLoad returns the hours placed on each teacher by this run's assignments.
func (s *optimizerState) runLoad() map[string]float64 {
	load := make(map[string]float64)
	for _, p := range s.assigned {
		if p == nil {
			continue
		}
		load[s.teachers[p.teacher].ID] += s.slots[p.slot].Hours()
	}
	return load
}

// breakdown scores group gi at candidate c. runLoad must not include gi's own placement.
func (s *optimizerState) breakdown(gi int, c candidate, runLoad map[string]float64) models.ScoreBreakdown {
	group := s.groups[gi]
	teacher := s.teachers[c.teacher]
	slot := s.slots[c.slot]

	b := models.ScoreBreakdown{
		ContentPriority: float64(group.Urgency.Level()) / 3,
		ClassSize:       classSizeScore(group.Size(), s.in.Course),
	}

	if teacher.TargetWeeklyHours > 0 {
		load := s.baseLoad[teacher.ID] + runLoad[teacher.ID]
		b.TeacherUtilization = clamp01(1 - load/teacher.TargetWeeklyHours)
	} else {
		b.TeacherUtilization = 0.5
	}

	b.StudentSatisfaction = preferenceFit(group.StudentIDs, s.in.Students, slot)
	return b
}

func classSizeScore(size int, course models.Course) float64 {
	ideal := course.Ideal()
	spread := ideal
	if course.MaxClassSize-course.MinClassSize > spread {
		spread = course.MaxClassSize - course.MinClassSize
	}
	if spread < 1 {
		spread = 1
	}
	return clamp01(1 - math.Abs(float64(size-ideal))/float64(spread))
}

// preferenceFit is the share of students whose preferred windows contain the slot.
// Students without preferences are satisfied anywhere.
func preferenceFit(studentIDs []string, students map[string]models.Student, slot models.TimeSlot) float64 {
	if len(studentIDs) == 0 {
		return 0
	}
	satisfied := 0
	for _, id := range studentIDs {
		student, ok := students[id]
		if !ok || len(student.PreferredWindows) == 0 || models.WindowsContain(student.PreferredWindows, slot.DayOfWeek, slot.Start, slot.End) {
			satisfied++
		}
	}
	return float64(satisfied) / float64(len(studentIDs))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *optimizerState) loadWithout(gi int) map[string]float64 {
	load := s.runLoad()
	if p := s.assigned[gi]; p != nil {
		load[s.teachers[p.teacher].ID] -= s.slots[p.slot].Hours()
	}
	return load
}

// objective returns scheduled students and the size-weighted score sum.
func (s *optimizerState) objective() (int, float64) {
	load := s.runLoad()
	scheduled := 0
	total := 0.0
	for gi, p := range s.assigned {
		if p == nil {
			continue
		}
		size := s.groups[gi].Size()
		scheduled += size
		teacherID := s.teachers[p.teacher].ID
		hours := s.slots[p.slot].Hours()
		load[teacherID] -= hours
		b := s.breakdown(gi, candidate{teacher: p.teacher, slot: p.slot}, load)
		load[teacherID] += hours
		total += s.weights.Score(b) * float64(size)
	}
	return scheduled, total
}

func better(scheduledA int, totalA float64, scheduledB int, totalB float64) bool {
	if scheduledA != scheduledB {
		return scheduledA > scheduledB
	}
	return totalA > totalB+scoreEpsilon
}

func (s *optimizerState) greedy() {
	for gi := range s.groups {
		load := s.runLoad()
		best := -1
		bestScore := 0.0
		for ci, c := range s.candidates[gi] {
			if !s.feasible(gi, c) {
				continue
			}
			score := s.weights.Score(s.breakdown(gi, c, load))
			if best < 0 || score > bestScore+scoreEpsilon {
				best = ci
				bestScore = score
			}
		}
		if best >= 0 {
			s.assign(gi, s.candidates[gi][best])
		}
	}
}

// improve performs one pass of swaps then relocations, returning accepted moves.
func (s *optimizerState) improve() int {
	accepted := 0
	for i := range s.groups {
		for j := i + 1; j < len(s.groups); j++ {
			if s.trySwap(i, j) {
				accepted++
			}
		}
	}
	for gi := range s.groups {
		if s.tryRelocate(gi) {
			accepted++
		}
	}
	return accepted
}

func (s *optimizerState) hasCandidate(gi int, c candidate) bool {
	for _, existing := range s.candidates[gi] {
		if existing == c {
			return true
		}
	}
	return false
}

func (s *optimizerState) trySwap(i, j int) bool {
	pi, pj := s.assigned[i], s.assigned[j]
	if pi == nil || pj == nil || *pi == *pj {
		return false
	}
	ci := candidate{teacher: pj.teacher, slot: pj.slot}
	cj := candidate{teacher: pi.teacher, slot: pi.slot}
	if !s.hasCandidate(i, ci) || !s.hasCandidate(j, cj) {
		return false
	}

	beforeScheduled, beforeTotal := s.objective()
	original := [2]candidate{{pi.teacher, pi.slot}, {pj.teacher, pj.slot}}

	s.unassign(i)
	s.unassign(j)
	if s.feasible(i, ci) {
		s.assign(i, ci)
		if s.feasible(j, cj) {
			s.assign(j, cj)
			afterScheduled, afterTotal := s.objective()
			if better(afterScheduled, afterTotal, beforeScheduled, beforeTotal) {
				return true
			}
			s.unassign(j)
		}
		s.unassign(i)
	}
	s.assign(i, original[0])
	s.assign(j, original[1])
	return false
}

func (s *optimizerState) tryRelocate(gi int) bool {
	current := s.assigned[gi]
	beforeScheduled, beforeTotal := s.objective()

	var original *candidate
	if current != nil {
		original = &candidate{teacher: current.teacher, slot: current.slot}
	}

	bestIdx := -1
	bestScheduled, bestTotal := beforeScheduled, beforeTotal
	for ci, c := range s.candidates[gi] {
		if original != nil && c == *original {
			continue
		}
		s.unassign(gi)
		if s.feasible(gi, c) {
			s.assign(gi, c)
			scheduled, total := s.objective()
			if better(scheduled, total, bestScheduled, bestTotal) {
				bestIdx = ci
				bestScheduled, bestTotal = scheduled, total
			}
			s.unassign(gi)
		}
		if original != nil {
			s.assign(gi, *original)
		}
	}

	if bestIdx < 0 {
		return false
	}
	s.unassign(gi)
	s.assign(gi, s.candidates[gi][bestIdx])
	return true
}

func (s *optimizerState) fill(out *OptimizerOutput, maxAlternatives int) {
	totalStudents := 0
	weighted := 0.0
	for gi, group := range s.groups {
		totalStudents += group.Size()
		p := s.assigned[gi]
		if p == nil {
			out.Deferred = append(out.Deferred, s.diagnose(gi))
			continue
		}
		chosen := candidate{teacher: p.teacher, slot: p.slot}
		load := s.loadWithout(gi)
		b := s.breakdown(gi, chosen, load)
		score := s.weights.Score(b)
		weighted += score * float64(group.Size())
		out.Assignments = append(out.Assignments, Assignment{
			Group:        group,
			TeacherID:    s.teachers[p.teacher].ID,
			Slot:         s.slots[p.slot],
			Score:        score,
			Breakdown:    b,
			Alternatives: s.alternatives(gi, chosen, load, maxAlternatives),
		})
	}

	if totalStudents == 0 {
		out.OptimizationScore = 100
	} else {
		out.OptimizationScore = math.Round(10000*weighted/float64(totalStudents)) / 100
	}

	sort.SliceStable(out.Assignments, func(i, j int) bool {
		return out.Assignments[i].Group.ID < out.Assignments[j].Group.ID
	})
	sort.SliceStable(out.Deferred, func(i, j int) bool {
		return out.Deferred[i].Group.ID < out.Deferred[j].Group.ID
	})
}

func (s *optimizerState) alternatives(gi int, chosen candidate, load map[string]float64, limit int) []models.Alternative {
	var alts []models.Alternative
	for _, c := range s.candidates[gi] {
		if c == chosen || !s.feasible(gi, c) {
			continue
		}
		alts = append(alts, models.Alternative{
			TeacherID: s.teachers[c.teacher].ID,
			SlotID:    s.slots[c.slot].ID,
			Score:     s.weights.Score(s.breakdown(gi, c, load)),
		})
	}
	sort.SliceStable(alts, func(i, j int) bool {
		if math.Abs(alts[i].Score-alts[j].Score) > scoreEpsilon {
			return alts[i].Score > alts[j].Score
		}
		if alts[i].TeacherID != alts[j].TeacherID {
			return alts[i].TeacherID < alts[j].TeacherID
		}
		return alts[i].SlotID < alts[j].SlotID
	})
	if len(alts) > limit {
		alts = alts[:limit]
	}
	return alts
}

// diagnose explains why a group has no placement.
func (s *optimizerState) diagnose(gi int) DeferredGroup {
	group := s.groups[gi]
	deferred := DeferredGroup{Group: group}
	constraints := s.in.Request.Constraints

	var certified []models.Teacher
	for _, t := range s.teachers {
		if t.CertifiedFor(group.CourseType, group.Head.Difficulty) {
			certified = append(certified, t)
			deferred.CertifiedTeachers = append(deferred.CertifiedTeachers, t.ID)
		}
	}

	reasons := make(map[string]bool)
	if len(certified) == 0 {
		reasons[DeferNoCertifiedTeacher] = true
	}
	if len(s.candidates[gi]) > 0 {
		reasons[DeferResourcesBooked] = true
	}

	fits := false
	for _, slot := range s.slots {
		if capacityFits(group, slot) {
			fits = true
		}
		if constraints.HonorRoomAvailability && !s.roomOpen(slot) {
			reasons[DeferRoomAvailability] = true
		}
		for _, t := range certified {
			if constraints.HonorTeacherAvailability && !models.WindowsContain(t.Availability, slot.DayOfWeek, slot.Start, slot.End) {
				reasons[DeferTeacherAvailability] = true
			}
			if _, blocked := s.blocked[models.BlockedAssignment{TeacherID: t.ID, SlotID: slot.ID}]; blocked {
				reasons[DeferBlockedByOverride] = true
			}
		}
	}
	if !fits {
		reasons[DeferCapacity] = true
	}

	for _, reason := range []string{DeferNoCertifiedTeacher, DeferResourcesBooked, DeferCapacity, DeferTeacherAvailability, DeferRoomAvailability, DeferBlockedByOverride} {
		if reasons[reason] {
			deferred.Reasons = append(deferred.Reasons, reason)
		}
	}
	return deferred
}

// rationale explains an assignment in plain words.
func rationale(a Assignment, teacherName string) string {
	label := a.Group.Head.Title
	if label == "" {
		label = a.Group.Head.ID
	}
	if a.Group.Onboarding {
		label = "onboarding: " + label
	}
	return fmt.Sprintf("%d student(s) on %s (urgency %s) with %s on day %d %s-%s in room %s; content %.2f, utilization %.2f, preference %.2f, size %.2f",
		a.Group.Size(), label, a.Group.Urgency, teacherName, a.Slot.DayOfWeek, a.Slot.Start, a.Slot.End, a.Slot.RoomID,
		a.Breakdown.ContentPriority, a.Breakdown.TeacherUtilization, a.Breakdown.StudentSatisfaction, a.Breakdown.ClassSize)
}
