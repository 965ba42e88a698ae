package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

const dueSoonWindow = 7 * 24 * time.Hour

// ProgressAnalyzer turns raw completion history into a prioritised content queue.
type ProgressAnalyzer struct{}

// NewProgressAnalyzer constructs a ProgressAnalyzer.
func NewProgressAnalyzer() *ProgressAnalyzer {
	return &ProgressAnalyzer{}
}

// Analyze builds the unlearned content bundle for a student. catalog must hold the
// content of one course type. ErrInsufficientHistory is returned when history is empty.
func (a *ProgressAnalyzer) Analyze(student models.Student, history []models.ProgressRecord, catalog []models.ContentItem, now time.Time) (*models.UnlearnedContentBundle, error) {
	return a.AnalyzeRange(student, history, catalog, models.TimeRange{}, now)
}

// AnalyzeRange is Analyze scored against a planning horizon. Deadlines are judged from the
// start of the window and anything due before its end counts as due soon.
func (a *ProgressAnalyzer) AnalyzeRange(student models.Student, history []models.ProgressRecord, catalog []models.ContentItem, window models.TimeRange, now time.Time) (*models.UnlearnedContentBundle, error) {
	if len(history) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInsufficientHistory, fmt.Sprintf("no progress record exists for student %s", student.ID))
	}

	passed := make(map[string]bool)
	failed := make(map[string]bool)
	for _, record := range history {
		if record.StudentID != "" && record.StudentID != student.ID {
			continue
		}
		if record.Passed {
			passed[record.ContentID] = true
			continue
		}
		failed[record.ContentID] = true
	}
	masteredTopics := toSet(student.MasteredTopics)
	strugglingTopics := toSet(student.StrugglingTopics)

	ordered := sortedCatalog(catalog)
	currentRank := 0
	for _, item := range ordered {
		if item.Position.Before(student.Position) {
			currentRank++
		}
	}

	due := newDueClock(window, now)
	bundle := &models.UnlearnedContentBundle{StudentID: student.ID}
	for rank, item := range ordered {
		if passed[item.ID] {
			continue
		}
		if item.Topic != "" {
			if _, ok := masteredTopics[item.Topic]; ok {
				continue
			}
		}

		points := sequencingPoints(rank-currentRank) + due.points(item.DueAt)
		urgency := urgencyFromPoints(points)

		_, struggling := strugglingTopics[item.Topic]
		previouslyFailed := failed[item.ID]
		if previouslyFailed || (item.Topic != "" && struggling) {
			urgency = urgency.Raise(1)
		}

		bundle.Items = append(bundle.Items, models.UnlearnedItem{
			Content:          item,
			Urgency:          urgency,
			PreviouslyFailed: previouslyFailed,
			PrerequisitesMet: prerequisitesMet(item, passed),
		})
	}

	sort.SliceStable(bundle.Items, func(i, j int) bool {
		left, right := bundle.Items[i], bundle.Items[j]
		if left.Urgency.Level() != right.Urgency.Level() {
			return left.Urgency.Level() > right.Urgency.Level()
		}
		if left.Content.Position != right.Content.Position {
			return left.Content.Position.Before(right.Content.Position)
		}
		return left.Content.ID < right.Content.ID
	})

	return bundle, nil
}

func sortedCatalog(catalog []models.ContentItem) []models.ContentItem {
	ordered := append([]models.ContentItem(nil), catalog...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position.Before(ordered[j].Position)
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

// sequencingPoints scores how far ahead of the student's position an item sits.
// Items at or behind the position are the most pressing.
func sequencingPoints(distance int) int {
	switch {
	case distance <= 0:
		return 3
	case distance == 1:
		return 2
	case distance <= 3:
		return 1
	default:
		return 0
	}
}

type dueClock struct {
	ref     time.Time
	horizon time.Time
}

func newDueClock(window models.TimeRange, now time.Time) dueClock {
	ref := now
	if window.From.After(now) {
		ref = window.From
	}
	horizon := ref.Add(dueSoonWindow)
	if !window.To.IsZero() {
		horizon = window.To
	}
	return dueClock{ref: ref, horizon: horizon}
}

func (c dueClock) points(dueAt *time.Time) int {
	if dueAt == nil {
		return 0
	}
	if c.ref.After(*dueAt) {
		return 2
	}
	if !dueAt.After(c.horizon) {
		return 1
	}
	return 0
}

func urgencyFromPoints(points int) models.Urgency {
	switch {
	case points >= 4:
		return models.UrgencyUrgent
	case points == 3:
		return models.UrgencyHigh
	case points == 2:
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}

func prerequisitesMet(item models.ContentItem, passed map[string]bool) bool {
	for _, prerequisite := range item.Prerequisites {
		if !passed[prerequisite] {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
