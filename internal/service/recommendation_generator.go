package service

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/class-scheduler-api/internal/models"
)

const defaultConfidenceThreshold = 0.6

// recommendationNamespace seeds recommendation ids so a run yields stable ids.
var recommendationNamespace = uuid.MustParse("0b8d7f4a-2c6e-4f1b-8e3d-91a5c7d2f630")

// Reasoning factor names.
const (
	FactorContentPriority     = "Content Priority"
	FactorTeacherAvailability = "Teacher Availability"
	FactorStudentPreference   = "Student Preference Fit"
	FactorClassSize           = "Class Size Fit"
)

// RecommendationInput carries a finished optimization and the resource view it ran on.
type RecommendationInput struct {
	RunID   string
	Course  models.Course
	Output  *OptimizerOutput
	Context ResolutionContext
	Blocks  []models.BlockedAssignment
	// ClassIDs maps an assignment's group id to the class created for it.
	ClassIDs map[string]string
	Weights  GoalWeights
	Now      time.Time
}

// RecommendationGenerator turns deferred and weak assignments into advisory changes.
type RecommendationGenerator struct {
	threshold float64
}

// NewRecommendationGenerator constructs a generator flagging assignments below threshold.
func NewRecommendationGenerator(threshold float64) *RecommendationGenerator {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultConfidenceThreshold
	}
	return &RecommendationGenerator{threshold: threshold}
}

type relaxedCandidate struct {
	teacher   models.Teacher
	slot      models.TimeSlot
	available bool
}

// Generate returns recommendations sorted by priority, confidence and id.
func (g *RecommendationGenerator) Generate(in RecommendationInput) []models.SchedulingRecommendation {
	if in.Output == nil {
		return []models.SchedulingRecommendation{}
	}
	weights := in.Weights.Normalized()
	search := newResolutionSearch(in.Context)
	blocked := make(map[models.BlockedAssignment]struct{}, len(in.Blocks))
	for _, b := range in.Blocks {
		blocked[b] = struct{}{}
	}

	recs := make([]models.SchedulingRecommendation, 0)
	for _, deferred := range in.Output.Deferred {
		recs = append(recs, g.forDeferred(in, weights, search, blocked, deferred)...)
	}
	for _, assignment := range in.Output.Assignments {
		if assignment.Score >= g.threshold {
			continue
		}
		recs = append(recs, g.forWeakAssignment(in, weights, assignment))
	}

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Priority.Level() != b.Priority.Level() {
			return a.Priority.Level() > b.Priority.Level()
		}
		if math.Abs(a.ConfidenceScore-b.ConfidenceScore) > scoreEpsilon {
			return a.ConfidenceScore > b.ConfidenceScore
		}
		return a.ID < b.ID
	})
	return recs
}

// relaxedCandidates lists (teacher, slot) pairs where every hard booking constraint holds
// but teacher availability windows may not.
func relaxedCandidates(search *resolutionSearch, blocked map[models.BlockedAssignment]struct{}, group models.StudentGroup, size int, studentIDs []string) []relaxedCandidate {
	var out []relaxedCandidate
	for _, slot := range search.slots {
		if size > slot.Capacity.Free() || !search.roomOpen(slot) {
			continue
		}
		for _, teacher := range search.teachers {
			if !teacher.CertifiedFor(group.CourseType, group.Head.Difficulty) {
				continue
			}
			if _, isBlocked := blocked[models.BlockedAssignment{TeacherID: teacher.ID, SlotID: slot.ID}]; isBlocked {
				continue
			}
			if !search.index.canPlace(teacher.ID, slot, studentIDs, "") {
				continue
			}
			out = append(out, relaxedCandidate{
				teacher:   teacher,
				slot:      slot,
				available: models.WindowsContain(teacher.Availability, slot.DayOfWeek, slot.Start, slot.End),
			})
		}
	}
	return out
}

func (g *RecommendationGenerator) forDeferred(in RecommendationInput, weights GoalWeights, search *resolutionSearch, blocked map[models.BlockedAssignment]struct{}, deferred DeferredGroup) []models.SchedulingRecommendation {
	group := deferred.Group
	candidates := relaxedCandidates(search, blocked, group, group.Size(), group.StudentIDs)
	reasons := strings.Join(deferred.Reasons, ", ")
	if reasons == "" {
		reasons = "no feasible assignment"
	}

	var out []models.SchedulingRecommendation

	// alternative_time is always offered for an unplaced group.
	timeRec := g.base(in, models.RecommendationAlternativeTime, group.ID, group.Urgency)
	timeRec.Params = models.RecommendationParams{CourseType: group.CourseType, ContentID: group.Head.ID, Difficulty: group.Head.Difficulty, StudentIDs: append([]string(nil), group.StudentIDs...)}
	var timeCandidate *relaxedCandidate
	for i := range candidates {
		if candidates[i].available {
			timeCandidate = &candidates[i]
			break
		}
	}
	if timeCandidate == nil && len(candidates) > 0 {
		timeCandidate = &candidates[0]
	}
	if timeCandidate != nil {
		timeRec.Params.TeacherID = timeCandidate.teacher.ID
		timeRec.Params.SlotID = timeCandidate.slot.ID
		timeRec.Description = fmt.Sprintf("schedule %d student(s) of group %s on day %d %s-%s in room %s with %s",
			group.Size(), group.ID, timeCandidate.slot.DayOfWeek, timeCandidate.slot.Start, timeCandidate.slot.End, timeCandidate.slot.RoomID, timeCandidate.teacher.ID)
		timeRec.Complexity = models.ComplexityLow
		timeRec.Benefits = []string{fmt.Sprintf("places %d unscheduled student(s)", group.Size())}
		timeRec.Drawbacks = []string{"students move to a time outside the optimized plan"}
		timeRec.Plan = []string{
			fmt.Sprintf("confirm slot %s with %s", timeCandidate.slot.ID, timeCandidate.teacher.ID),
			"approve this recommendation to create the class",
		}
	} else {
		timeRec.Description = fmt.Sprintf("open an additional time slot for %d student(s) of group %s: %s", group.Size(), group.ID, reasons)
		timeRec.Complexity = models.ComplexityHigh
		timeRec.Benefits = []string{fmt.Sprintf("creates capacity for %d unscheduled student(s)", group.Size())}
		timeRec.Drawbacks = []string{"requires a new slot and a certified teacher"}
		timeRec.Plan = []string{"add a time slot for the course", "re-run scheduling for the course"}
	}
	timeRec.Reasoning = g.factors(in, weights, group, timeCandidate)
	timeRec.ConfidenceScore = confidence(timeRec.Reasoning)
	timeRec.Risk = deferredRisk(group, timeCandidate)
	out = append(out, timeRec)

	// alternative_teacher only when a certified teacher could take it with an availability change.
	for i := range candidates {
		c := candidates[i]
		if c.available || !in.Context.Constraints.HonorTeacherAvailability {
			continue
		}
		rec := g.base(in, models.RecommendationAlternativeTeacher, group.ID, group.Urgency)
		rec.Params = models.RecommendationParams{CourseType: group.CourseType, ContentID: group.Head.ID, Difficulty: group.Head.Difficulty, TeacherID: c.teacher.ID, SlotID: c.slot.ID, StudentIDs: append([]string(nil), group.StudentIDs...)}
		rec.Description = fmt.Sprintf("ask %s to teach group %s on day %d %s-%s outside their availability", c.teacher.ID, group.ID, c.slot.DayOfWeek, c.slot.Start, c.slot.End)
		rec.Complexity = models.ComplexityMedium
		rec.Benefits = []string{fmt.Sprintf("places %d unscheduled student(s) with a certified teacher", group.Size())}
		rec.Drawbacks = []string{"the teacher works outside their declared availability"}
		rec.Plan = []string{
			fmt.Sprintf("agree the extra session with %s", c.teacher.ID),
			"approve this recommendation to create the class",
		}
		rec.Reasoning = g.factors(in, weights, group, &c)
		rec.ConfidenceScore = confidence(rec.Reasoning)
		rec.Risk = models.RiskAssessment{Factors: []models.RiskFactor{{
			Name:       "Availability change",
			Severity:   models.SeverityMedium,
			Mitigation: "confirm with the teacher before approving",
		}}}
		rec.Risk.OverallRisk = overallRisk(rec.Risk.Factors)
		out = append(out, rec)
		break
	}

	if group.Size() > 1 {
		out = append(out, g.regroup(in, weights, search, blocked, group))
	}
	return out
}

// regroup splits a deferred group so that part of it fits an open slot.
func (g *RecommendationGenerator) regroup(in RecommendationInput, weights GoalWeights, search *resolutionSearch, blocked map[models.BlockedAssignment]struct{}, group models.StudentGroup) models.SchedulingRecommendation {
	rec := g.base(in, models.RecommendationRegroup, group.ID, group.Urgency)
	rec.Params = models.RecommendationParams{CourseType: group.CourseType, ContentID: group.Head.ID, Difficulty: group.Head.Difficulty, StudentIDs: append([]string(nil), group.StudentIDs...)}
	rec.Complexity = models.ComplexityMedium

	var chosen *relaxedCandidate
	part := 0
	for take := group.Size() - 1; take >= 1 && chosen == nil; take-- {
		subset := group.StudentIDs[:take]
		for _, c := range relaxedCandidates(search, blocked, group, take, subset) {
			if c.available || !in.Context.Constraints.HonorTeacherAvailability {
				candidate := c
				chosen = &candidate
				part = take
				break
			}
		}
	}

	if chosen != nil {
		rec.Params.StudentIDs = append([]string(nil), group.StudentIDs[:part]...)
		rec.Params.TeacherID = chosen.teacher.ID
		rec.Params.SlotID = chosen.slot.ID
		rec.Description = fmt.Sprintf("split group %s and schedule %d of %d student(s) in slot %s with %s", group.ID, part, group.Size(), chosen.slot.ID, chosen.teacher.ID)
		rec.Benefits = []string{fmt.Sprintf("places %d student(s) now", part)}
		rec.Drawbacks = []string{fmt.Sprintf("%d student(s) stay unscheduled", group.Size()-part)}
		rec.Plan = []string{
			"approve this recommendation to create the smaller class",
			"re-run scheduling for the remaining students",
		}
	} else {
		rec.Description = fmt.Sprintf("split group %s into smaller sessions once capacity opens", group.ID)
		rec.Benefits = []string{"smaller groups fit more slots"}
		rec.Drawbacks = []string{"needs additional teacher hours"}
		rec.Plan = []string{"add capacity for the course", "re-run scheduling with a lower maximum class size"}
		rec.Complexity = models.ComplexityHigh
	}
	rec.Reasoning = g.factors(in, weights, group, chosen)
	if chosen != nil {
		for i := range rec.Reasoning {
			if rec.Reasoning[i].Name == FactorClassSize {
				rec.Reasoning[i].Contribution = classSizeScore(part, in.Course)
			}
		}
	}
	rec.ConfidenceScore = confidence(rec.Reasoning)
	rec.Risk = models.RiskAssessment{Factors: []models.RiskFactor{{
		Name:       "Group cohesion",
		Severity:   models.SeverityLow,
		Mitigation: "keep students of the same pace together",
	}}}
	if chosen == nil {
		rec.Risk.Factors = append(rec.Risk.Factors, models.RiskFactor{Name: "No open slot", Severity: models.SeverityHigh, Mitigation: "add a time slot"})
	}
	rec.Risk.OverallRisk = overallRisk(rec.Risk.Factors)
	return rec
}

func (g *RecommendationGenerator) forWeakAssignment(in RecommendationInput, weights GoalWeights, a Assignment) models.SchedulingRecommendation {
	classID := in.ClassIDs[a.Group.ID]
	priority := models.UrgencyLow
	if a.Score < g.threshold/2 {
		priority = models.UrgencyMedium
	}
	kind := models.RecommendationImproveAssignment
	var best *models.Alternative
	for i := range a.Alternatives {
		if a.Alternatives[i].Score > a.Score+scoreEpsilon {
			best = &a.Alternatives[i]
			break
		}
	}
	if best != nil {
		switch {
		case best.TeacherID == a.TeacherID:
			kind = models.RecommendationAlternativeTime
		case best.SlotID == a.Slot.ID:
			kind = models.RecommendationAlternativeTeacher
		}
	}

	rec := g.base(in, kind, a.Group.ID, priority)
	rec.Params = models.RecommendationParams{ClassID: classID, CourseType: a.Group.CourseType}
	rec.Reasoning = []models.ReasoningFactor{
		{Name: FactorContentPriority, Weight: weights.ContentPriority, Contribution: a.Breakdown.ContentPriority, Detail: fmt.Sprintf("urgency %s", a.Group.Urgency)},
		{Name: FactorTeacherAvailability, Weight: weights.TeacherUtilization, Contribution: a.Breakdown.TeacherUtilization, Detail: fmt.Sprintf("teacher %s", a.TeacherID)},
		{Name: FactorStudentPreference, Weight: weights.StudentSatisfaction, Contribution: a.Breakdown.StudentSatisfaction},
		{Name: FactorClassSize, Weight: weights.ClassSize, Contribution: a.Breakdown.ClassSize, Detail: fmt.Sprintf("%d student(s)", a.Group.Size())},
	}
	rec.ConfidenceScore = confidence(rec.Reasoning)
	rec.Complexity = models.ComplexityLow

	if best != nil {
		if best.TeacherID != a.TeacherID {
			rec.Params.TeacherID = best.TeacherID
		}
		if best.SlotID != a.Slot.ID {
			rec.Params.SlotID = best.SlotID
		}
		rec.Description = fmt.Sprintf("class %s scores %.2f; moving it to %s in slot %s scores %.2f", classID, a.Score, best.TeacherID, best.SlotID, best.Score)
		rec.Benefits = []string{fmt.Sprintf("raises the assignment score by %.2f", best.Score-a.Score)}
		rec.Drawbacks = []string{"changes a proposed class after publication"}
		rec.Plan = []string{"review the alternative", "approve this recommendation to apply it as an override"}
	} else {
		rec.Description = fmt.Sprintf("class %s scores %.2f below the %.2f threshold and no better alternative exists", classID, a.Score, g.threshold)
		rec.Benefits = []string{"flags a weak assignment for review"}
		rec.Drawbacks = []string{"no automatic change is available"}
		rec.Plan = []string{"review teacher load and student preferences", "adjust availability and re-run scheduling"}
		rec.Complexity = models.ComplexityMedium
	}
	rec.Risk = models.RiskAssessment{Factors: []models.RiskFactor{{
		Name:       "Low confidence",
		Severity:   models.SeverityLow,
		Mitigation: "confirm the class with the teacher",
	}}}
	if priority == models.UrgencyMedium {
		rec.Risk.Factors[0].Severity = models.SeverityMedium
	}
	rec.Risk.OverallRisk = overallRisk(rec.Risk.Factors)
	return rec
}

func (g *RecommendationGenerator) base(in RecommendationInput, kind models.RecommendationType, groupID string, priority models.Urgency) models.SchedulingRecommendation {
	key := strings.Join([]string{in.RunID, string(kind), groupID}, "|")
	return models.SchedulingRecommendation{
		ID:        uuid.NewSHA1(recommendationNamespace, []byte(key)).String(),
		RunID:     in.RunID,
		Type:      kind,
		Priority:  priority,
		Status:    models.RecommendationPending,
		CreatedAt: in.Now,
	}
}

// factors scores a deferred group against an optional candidate placement.
func (g *RecommendationGenerator) factors(in RecommendationInput, weights GoalWeights, group models.StudentGroup, c *relaxedCandidate) []models.ReasoningFactor {
	content := models.ReasoningFactor{
		Name:         FactorContentPriority,
		Weight:       weights.ContentPriority,
		Contribution: float64(group.Urgency.Level()) / 3,
		Detail:       fmt.Sprintf("urgency %s", group.Urgency),
	}
	availability := models.ReasoningFactor{Name: FactorTeacherAvailability, Weight: weights.TeacherUtilization, Detail: "no certified teacher is free"}
	preference := models.ReasoningFactor{Name: FactorStudentPreference, Weight: weights.StudentSatisfaction}
	size := models.ReasoningFactor{
		Name:         FactorClassSize,
		Weight:       weights.ClassSize,
		Contribution: classSizeScore(group.Size(), in.Course),
		Detail:       fmt.Sprintf("%d student(s)", group.Size()),
	}
	if c != nil {
		availability.Contribution = 0.5
		availability.Detail = fmt.Sprintf("%s is free but outside availability", c.teacher.ID)
		if c.available {
			availability.Contribution = 1
			availability.Detail = fmt.Sprintf("%s is available", c.teacher.ID)
		}
		preference.Contribution = preferenceFit(group.StudentIDs, in.Context.Students, c.slot)
	}
	return []models.ReasoningFactor{content, availability, preference, size}
}

// confidence accumulates weight times contribution over the factors.
func confidence(factors []models.ReasoningFactor) float64 {
	total := 0.0
	for _, f := range factors {
		total += f.Weight * f.Contribution
	}
	return math.Round(clamp01(total)*10000) / 10000
}

func deferredRisk(group models.StudentGroup, c *relaxedCandidate) models.RiskAssessment {
	severity := models.SeverityLow
	switch group.Urgency {
	case models.UrgencyUrgent:
		severity = models.SeverityHigh
	case models.UrgencyHigh:
		severity = models.SeverityMedium
	}
	factors := []models.RiskFactor{{
		Name:       "Unscheduled students",
		Severity:   severity,
		Mitigation: "schedule the group before the next run",
	}}
	if c == nil {
		factors = append(factors, models.RiskFactor{Name: "No open slot", Severity: models.SeverityHigh, Mitigation: "add a time slot"})
	} else if !c.available {
		factors = append(factors, models.RiskFactor{Name: "Availability change", Severity: models.SeverityMedium, Mitigation: "confirm with the teacher"})
	}
	return models.RiskAssessment{OverallRisk: overallRisk(factors), Factors: factors}
}

func overallRisk(factors []models.RiskFactor) models.Severity {
	values := make([]models.Severity, 0, len(factors))
	for _, f := range factors {
		values = append(values, f.Severity)
	}
	return models.MaxSeverity(values...)
}
