package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

var analyzerNow = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func analyzerCatalog() []models.ContentItem {
	overdue := analyzerNow.Add(-24 * time.Hour)
	return []models.ContentItem{
		{ID: "c5", CourseType: "math", Position: models.CurriculumPosition{Unit: 2, Lesson: 2}, DueAt: &overdue, Prerequisites: []string{"c4"}},
		{ID: "c1", CourseType: "math", Position: models.CurriculumPosition{Unit: 1, Lesson: 1}},
		{ID: "c3", CourseType: "math", Position: models.CurriculumPosition{Unit: 1, Lesson: 3}, Topic: "decimals", Prerequisites: []string{"c2"}},
		{ID: "c2", CourseType: "math", Position: models.CurriculumPosition{Unit: 1, Lesson: 2}},
		{ID: "c4", CourseType: "math", Position: models.CurriculumPosition{Unit: 2, Lesson: 1}, Topic: "fractions"},
	}
}

func itemIDs(bundle *models.UnlearnedContentBundle) []string {
	ids := make([]string, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		ids = append(ids, item.Content.ID)
	}
	return ids
}

func TestProgressAnalyzerRanksUnlearnedContent(t *testing.T) {
	analyzer := NewProgressAnalyzer()
	student := models.Student{ID: "s1", Position: models.CurriculumPosition{Unit: 1, Lesson: 2}}
	history := []models.ProgressRecord{
		{StudentID: "s1", ContentID: "c1", Passed: true},
		{StudentID: "s1", ContentID: "c2", Passed: false},
	}

	bundle, err := analyzer.Analyze(student, history, analyzerCatalog(), analyzerNow)
	require.NoError(t, err)

	assert.Equal(t, "s1", bundle.StudentID)
	require.Equal(t, []string{"c2", "c5", "c3", "c4"}, itemIDs(bundle))

	failed := bundle.Items[0]
	assert.Equal(t, models.UrgencyUrgent, failed.Urgency)
	assert.True(t, failed.PreviouslyFailed)
	assert.True(t, failed.PrerequisitesMet)

	overdue := bundle.Items[1]
	assert.Equal(t, models.UrgencyHigh, overdue.Urgency)
	assert.False(t, overdue.PrerequisitesMet)

	assert.Equal(t, models.UrgencyMedium, bundle.Items[2].Urgency)
	assert.False(t, bundle.Items[2].PrerequisitesMet)
	assert.Equal(t, models.UrgencyLow, bundle.Items[3].Urgency)

	head := bundle.Head(true)
	require.NotNil(t, head)
	assert.Equal(t, "c2", head.Content.ID)
}

func TestProgressAnalyzerSkipsMasteredTopicsAndRaisesStruggling(t *testing.T) {
	analyzer := NewProgressAnalyzer()
	student := models.Student{
		ID:               "s1",
		Position:         models.CurriculumPosition{Unit: 1, Lesson: 2},
		MasteredTopics:   []string{"fractions"},
		StrugglingTopics: []string{"decimals"},
	}
	history := []models.ProgressRecord{{StudentID: "s1", ContentID: "c1", Passed: true}}

	bundle, err := analyzer.Analyze(student, history, analyzerCatalog(), analyzerNow)
	require.NoError(t, err)

	assert.NotContains(t, itemIDs(bundle), "c4")
	for _, item := range bundle.Items {
		if item.Content.ID == "c3" {
			assert.Equal(t, models.UrgencyHigh, item.Urgency)
		}
	}
}

func TestProgressAnalyzerIgnoresOtherStudentsHistory(t *testing.T) {
	analyzer := NewProgressAnalyzer()
	student := models.Student{ID: "s1"}
	history := []models.ProgressRecord{
		{StudentID: "s1", ContentID: "c1", Passed: true},
		{StudentID: "s2", ContentID: "c2", Passed: true},
	}

	bundle, err := analyzer.Analyze(student, history, analyzerCatalog(), analyzerNow)
	require.NoError(t, err)
	assert.Contains(t, itemIDs(bundle), "c2")
	assert.NotContains(t, itemIDs(bundle), "c1")
}

func TestProgressAnalyzerRequiresHistory(t *testing.T) {
	_, err := NewProgressAnalyzer().Analyze(models.Student{ID: "s1"}, nil, analyzerCatalog(), analyzerNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInsufficientHistory))
	assert.Contains(t, err.Error(), "s1")
}

func TestProgressAnalyzerHeadWhenEverythingPassed(t *testing.T) {
	var history []models.ProgressRecord
	for _, item := range analyzerCatalog() {
		history = append(history, models.ProgressRecord{StudentID: "s1", ContentID: item.ID, Passed: true})
	}
	bundle, err := NewProgressAnalyzer().Analyze(models.Student{ID: "s1"}, history, analyzerCatalog(), analyzerNow)
	require.NoError(t, err)
	assert.Empty(t, bundle.Items)
	assert.Nil(t, bundle.Head(false))
}

func TestProgressAnalyzerScoresDeadlinesAgainstWindow(t *testing.T) {
	analyzer := NewProgressAnalyzer()
	due := analyzerNow.Add(20 * 24 * time.Hour)
	catalog := []models.ContentItem{
		{ID: "c1", CourseType: "math", Position: models.CurriculumPosition{Unit: 1, Lesson: 1}},
		{ID: "c2", CourseType: "math", Position: models.CurriculumPosition{Unit: 1, Lesson: 2}, DueAt: &due},
	}
	student := models.Student{ID: "s1", Position: models.CurriculumPosition{Unit: 1, Lesson: 1}}
	history := []models.ProgressRecord{{StudentID: "s1", ContentID: "c1", Passed: true}}

	cases := []struct {
		name   string
		window models.TimeRange
		want   models.Urgency
	}{
		{name: "default horizon", want: models.UrgencyMedium},
		{name: "due inside window", window: models.TimeRange{To: analyzerNow.Add(30 * 24 * time.Hour)}, want: models.UrgencyHigh},
		{name: "due before window opens", window: models.TimeRange{From: analyzerNow.Add(25 * 24 * time.Hour)}, want: models.UrgencyUrgent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bundle, err := analyzer.AnalyzeRange(student, history, catalog, tc.window, analyzerNow)
			require.NoError(t, err)
			require.Len(t, bundle.Items, 1)
			assert.Equal(t, "c2", bundle.Items[0].Content.ID)
			assert.Equal(t, tc.want, bundle.Items[0].Urgency)
		})
	}
}
