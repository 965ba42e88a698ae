package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
	"github.com/noah-isme/class-scheduler-api/internal/scenario"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

type runFixture struct {
	scenario  *scenario.Scenario
	directory *repository.MemoryDirectory
	store     *repository.MemoryResourceStore
	recRepo   *repository.MemoryRecommendationRepository
	overrides *OverrideService
	recs      *RecommendationService
	runs      *SchedulingRunService
	now       time.Time
}

func newRunFixture(t *testing.T, file string, cfg SchedulingRunConfig) *runFixture {
	t.Helper()
	sc, err := scenario.Load(filepath.Join("..", "scenario", "testdata", file))
	require.NoError(t, err)
	require.NoError(t, sc.Validate())
	directory, store, err := sc.Build()
	require.NoError(t, err)

	now := sc.Now.UTC()
	clock := func() time.Time { return now }
	validate := validator.New()
	logger := zap.NewNop()

	overrides := NewOverrideService(store, validate, logger, WithOverrideClock(clock))
	recRepo := repository.NewMemoryRecommendationRepository()
	recs := NewRecommendationService(recRepo, logger, WithRecommendationLifecycle(overrides), WithRecommendationClock(clock))
	runs := NewSchedulingRunService(directory, store, recs, validate, logger, cfg, WithRunClock(clock))

	return &runFixture{
		scenario:  sc,
		directory: directory,
		store:     store,
		recRepo:   recRepo,
		overrides: overrides,
		recs:      recs,
		runs:      runs,
		now:       now,
	}
}

func mathRequest() models.SchedulingRequest {
	return models.SchedulingRequest{CourseType: "math", Constraints: models.DefaultConstraints(), RequestedBy: "tester"}
}

func TestRunOnceSchedulesTenStudentsIntoTwoClasses(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})

	result, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{RunID: "run-a"})
	require.NoError(t, err)

	require.Len(t, result.Classes, 2)
	assert.Empty(t, result.Conflicts)
	assert.Empty(t, result.UnscheduledStudentIDs)
	assert.Empty(t, result.Recommendations)
	assert.Equal(t, int64(1), result.SnapshotVersion)
	assert.Equal(t, int64(2), result.CommittedVersion)

	sizes := map[string]int{}
	for _, class := range result.Classes {
		assert.Equal(t, models.ClassStatusProposed, class.Status)
		assert.Equal(t, "t-ada", class.TeacherID)
		assert.Equal(t, models.ClassTypeGroup, class.ClassType)
		assert.Equal(t, "run-a", class.RunID)
		assert.NotEmpty(t, class.Rationale)
		sizes[class.Slot.ID] = len(class.StudentIDs)
	}
	assert.Equal(t, map[string]int{"slot-mon-09": 6, "slot-mon-10": 4}, sizes)

	assert.Equal(t, 10, result.Metrics.StudentsProcessed)
	assert.Equal(t, 2, result.Metrics.ClassesScheduled)
	assert.InDelta(t, 1.0, result.Metrics.SuccessRate, 1e-9)
	assert.InDelta(t, 1.0, result.Metrics.ResourceUtilization, 1e-9)
	assert.Greater(t, result.OptimizationScore, 0.0)

	snapshot, err := f.store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Classes, 2)
}

func TestRunOnceIsDeterministic(t *testing.T) {
	type placement struct {
		group    string
		slot     string
		teacher  string
		students int
	}
	collect := func() []placement {
		f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})
		result, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{RunID: "run-det"})
		require.NoError(t, err)
		out := make([]placement, 0, len(result.Classes))
		for _, class := range result.Classes {
			out = append(out, placement{class.GroupID, class.Slot.ID, class.TeacherID, len(class.StudentIDs)})
		}
		return out
	}
	assert.Equal(t, collect(), collect())
}

func TestRunOnceSupersedesEarlierProposals(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})

	_, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{RunID: "first"})
	require.NoError(t, err)
	second, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{RunID: "second"})
	require.NoError(t, err)

	require.Len(t, second.Classes, 2)
	assert.Equal(t, int64(3), second.CommittedVersion)

	snapshot, err := f.store.Snapshot(context.Background())
	require.NoError(t, err)
	statuses := map[models.ClassStatus]int{}
	for _, class := range snapshot.Classes {
		statuses[class.Status]++
		if class.Status == models.ClassStatusProposed {
			assert.Equal(t, "second", class.RunID)
		}
	}
	assert.Equal(t, 2, statuses[models.ClassStatusCancelled])
	assert.Equal(t, 2, statuses[models.ClassStatusProposed])
}

func TestRunOncePartialRerunReseatsClassmates(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})
	first, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{RunID: "first"})
	require.NoError(t, err)

	var classmates []string
	for _, class := range first.Classes {
		for _, id := range class.StudentIDs {
			if id == "s01" {
				classmates = class.StudentIDs
			}
		}
	}
	require.NotEmpty(t, classmates)

	req := mathRequest()
	req.StudentIDs = []string{"s01"}
	second, err := f.runs.RunOnce(context.Background(), req, RunOptions{RunID: "second"})
	require.NoError(t, err)
	assert.Equal(t, len(classmates), second.Metrics.StudentsProcessed)

	snapshot, err := f.store.Snapshot(context.Background())
	require.NoError(t, err)
	seated := map[string]bool{}
	for _, class := range snapshot.Classes {
		if !class.Active() {
			continue
		}
		for _, id := range class.StudentIDs {
			seated[id] = true
		}
	}
	for _, id := range second.UnscheduledStudentIDs {
		seated[id] = true
	}
	for _, student := range f.scenario.Students {
		assert.True(t, seated[student.ID], "student %s lost their class", student.ID)
	}
}

func TestRunOnceReportsCompletedStudentsSeparately(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})
	f.directory.PutProgress(models.ProgressRecord{StudentID: "s10", ContentID: "math-1", CompletedAt: f.now, Passed: true, Attempts: 1})

	result, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{RunID: "run-c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s10"}, result.CompletedStudentIDs)
	assert.Empty(t, result.UnscheduledStudentIDs)
	assert.Equal(t, 9, result.Metrics.StudentsProcessed)
	assert.InDelta(t, 1.0, result.Metrics.SuccessRate, 1e-9)
	for _, class := range result.Classes {
		assert.NotContains(t, class.StudentIDs, "s10")
	}
}

func TestRunOnceKeepsConfirmedClassesPinned(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})
	first, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{RunID: "first"})
	require.NoError(t, err)

	var confirmedID string
	for _, class := range first.Classes {
		if class.Slot.ID == "slot-mon-09" {
			confirmedID = class.ID
		}
	}
	require.NotEmpty(t, confirmedID)
	_, err = f.overrides.Confirm(context.Background(), confirmedID, "tester")
	require.NoError(t, err)

	second, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{RunID: "second"})
	require.NoError(t, err)

	require.Len(t, second.Classes, 2)
	var kept, fresh int
	for _, class := range second.Classes {
		switch class.Status {
		case models.ClassStatusConfirmed:
			kept++
			assert.Equal(t, confirmedID, class.ID)
			assert.Equal(t, "slot-mon-09", class.Slot.ID)
		case models.ClassStatusProposed:
			fresh++
			assert.Equal(t, "slot-mon-10", class.Slot.ID)
			assert.Len(t, class.StudentIDs, 4)
		}
	}
	assert.Equal(t, 1, kept)
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 4, second.Metrics.StudentsProcessed)
}

func TestRunOnceClassSizeOverrideLeavesOneStudentUnscheduled(t *testing.T) {
	f := newRunFixture(t, "single_slot.yaml", SchedulingRunConfig{})

	class, err := f.overrides.Apply(context.Background(), "class-x", models.SchedulingOverride{
		Type:      models.OverrideClassSize,
		Reason:    "one-on-one coaching",
		Params:    models.OverrideParams{MaxStudents: 1},
		AppliedBy: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s01"}, class.StudentIDs)
	assert.Equal(t, models.ClassStatusOverridden, class.Status)

	result, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{RunID: "run-b"})
	require.NoError(t, err)

	require.Len(t, result.Classes, 1)
	assert.Equal(t, "class-x", result.Classes[0].ID)
	assert.Equal(t, []string{"s02"}, result.UnscheduledStudentIDs)
	assert.Empty(t, result.Conflicts)

	require.Len(t, result.Recommendations, 1)
	rec := result.Recommendations[0]
	assert.Equal(t, models.RecommendationAlternativeTime, rec.Type)
	assert.Equal(t, models.RecommendationPending, rec.Status)
	assert.Equal(t, []string{"s02"}, rec.Params.StudentIDs)
	assert.Equal(t, "run-b", rec.RunID)

	stored, err := f.recs.List(context.Background(), models.RecommendationFilter{RunID: "run-b"})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	// nothing new to commit
	assert.Equal(t, result.SnapshotVersion, result.CommittedVersion)
}

func TestConflictsReportsForcedDoubleBooking(t *testing.T) {
	f := newRunFixture(t, "shared_room.yaml", SchedulingRunConfig{})

	_, err := f.overrides.Apply(context.Background(), "class-x", models.SchedulingOverride{
		Type:   models.OverrideForceSchedule,
		Reason: "parent request",
		Params: models.OverrideParams{TeacherID: "t-ada", SlotID: "slot-mon-10"},
	})
	require.NoError(t, err)
	version := f.store.Version()

	conflicts, err := f.runs.Conflicts(context.Background())
	require.NoError(t, err)

	require.Len(t, conflicts, 1)
	conflict := conflicts[0]
	assert.Equal(t, models.ConflictRoomDoubleBooked, conflict.Type)
	assert.Equal(t, models.SeverityHigh, conflict.Severity)
	assert.Equal(t, []string{"class-x", "class-y"}, conflict.ClassIDs)
	assert.Equal(t, []string{"room-1"}, conflict.RoomIDs)
	assert.NotEmpty(t, conflict.Resolutions)

	// detection only proposes fixes
	assert.Equal(t, version, f.store.Version())
	snapshot, err := f.store.Snapshot(context.Background())
	require.NoError(t, err)
	x, _ := snapshot.Class("class-x")
	y, _ := snapshot.Class("class-y")
	assert.Equal(t, "slot-mon-10", x.Slot.ID)
	assert.Equal(t, "slot-mon-10", y.Slot.ID)
}

func TestConflictsAreIdempotent(t *testing.T) {
	f := newRunFixture(t, "shared_room.yaml", SchedulingRunConfig{})
	_, err := f.overrides.Apply(context.Background(), "class-x", models.SchedulingOverride{
		Type:   models.OverrideForceSchedule,
		Reason: "parent request",
		Params: models.OverrideParams{TeacherID: "t-ada", SlotID: "slot-mon-10"},
	})
	require.NoError(t, err)

	first, err := f.runs.Conflicts(context.Background())
	require.NoError(t, err)
	second, err := f.runs.Conflicts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRunOnceFailsWhenResourceModelChangesMidRun(t *testing.T) {
	f := newRunFixture(t, "concurrent_override.yaml", SchedulingRunConfig{})

	applied := false
	_, err := f.runs.RunOnce(context.Background(), mathRequest(), RunOptions{
		RunID: "run-d",
		Progress: func(_ float64, stage string) {
			if stage != "optimizing" || applied {
				return
			}
			applied = true
			_, applyErr := f.overrides.Apply(context.Background(), "class-chem-1", models.SchedulingOverride{
				Type:   models.OverridePreventSchedule,
				Reason: "lab closed for maintenance",
			})
			require.NoError(t, applyErr)
		},
	})

	require.Error(t, err)
	assert.True(t, applied)
	assert.True(t, errors.Is(err, appErrors.ErrStaleResourceModel))
	assert.True(t, appErrors.IsRetryable(err))

	assert.Equal(t, int64(2), f.store.Version())
	snapshot, err := f.store.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Classes, 1)
	assert.Equal(t, "class-chem-1", snapshot.Classes[0].ID)
	assert.True(t, snapshot.Classes[0].Suspended)

	stored, err := f.recs.List(context.Background(), models.RecommendationFilter{RunID: "run-d"})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRunOnceHonoursCancellation(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.runs.RunOnce(ctx, mathRequest(), RunOptions{
		Progress: func(_ float64, stage string) {
			if stage == "matching" {
				cancel()
			}
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrRunCancelled))
	assert.Equal(t, int64(1), f.store.Version())
}

// cancellingStore cancels the run while its commit is in flight and honours the context
// the way a database driver would.
type cancellingStore struct {
	ResourceStore
	cancel context.CancelFunc
}

func (s *cancellingStore) Commit(ctx context.Context, expected int64, changes models.ChangeSet) (int64, error) {
	s.cancel()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.ResourceStore.Commit(ctx, expected, changes)
}

type contextAwareRecommendations struct {
	*repository.MemoryRecommendationRepository
}

func (r contextAwareRecommendations) SaveBatch(ctx context.Context, recs []models.SchedulingRecommendation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MemoryRecommendationRepository.SaveBatch(ctx, recs)
}

type contextAwareCache struct {
	*memoryCacheRepo
}

func (c contextAwareCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.memoryCacheRepo.Set(ctx, key, value, ttl)
}

func TestRunOnceCancelDuringCommitKeepsTheRun(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &cancellingStore{ResourceStore: f.store, cancel: cancel}
	cache := NewCacheService(contextAwareCache{newMemoryCacheRepo()}, nil, time.Minute, zap.NewNop(), true)
	runs := NewSchedulingRunService(f.directory, store, f.recs, nil, zap.NewNop(), SchedulingRunConfig{},
		WithRunClock(func() time.Time { return f.now }),
		WithRunCache(cache),
	)

	result, err := runs.RunOnce(ctx, mathRequest(), RunOptions{RunID: "run-late"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.CommittedVersion)
	assert.Equal(t, int64(2), f.store.Version())

	cached, hit := cache.RunMetrics(context.Background(), "run-late")
	require.True(t, hit)
	assert.Equal(t, result.Metrics.ClassesScheduled, cached.ClassesScheduled)
}

func TestRunOnceCancelAfterCommitStillRecordsRecommendations(t *testing.T) {
	f := newRunFixture(t, "single_slot.yaml", SchedulingRunConfig{})
	_, err := f.overrides.Apply(context.Background(), "class-x", models.SchedulingOverride{
		Type:   models.OverrideClassSize,
		Reason: "one-on-one coaching",
		Params: models.OverrideParams{MaxStudents: 1},
	})
	require.NoError(t, err)

	recRepo := contextAwareRecommendations{repository.NewMemoryRecommendationRepository()}
	recs := NewRecommendationService(recRepo, zap.NewNop())
	runs := NewSchedulingRunService(f.directory, f.store, recs, nil, zap.NewNop(), SchedulingRunConfig{}, WithRunClock(func() time.Time { return f.now }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result, err := runs.RunOnce(ctx, mathRequest(), RunOptions{
		RunID: "run-e",
		Progress: func(_ float64, stage string) {
			if stage == "committed" {
				cancel()
			}
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Recommendations, 1)

	stored, err := recs.List(context.Background(), models.RecommendationFilter{RunID: "run-e"})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRunOnceValidatesRequest(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})

	cases := map[string]models.SchedulingRequest{
		"missing course":  {},
		"unknown course":  {CourseType: "history"},
		"unknown student": {CourseType: "math", StudentIDs: []string{"s99"}},
		"bad goal":        {CourseType: "math", Goals: []models.GoalWeight{{Goal: "speed"}}},
		"inverted range": {CourseType: "math", TimeRange: models.TimeRange{
			From: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.runs.RunOnce(context.Background(), req, RunOptions{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation), err.Error())
		})
	}
}

func TestRunOnceRestrictsToRequestedStudents(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})
	req := mathRequest()
	req.StudentIDs = []string{"s03", "s01", "s02", "s01"}

	result, err := f.runs.RunOnce(context.Background(), req, RunOptions{})
	require.NoError(t, err)
	require.Len(t, result.Classes, 1)
	assert.Equal(t, []string{"s01", "s02", "s03"}, result.Classes[0].StudentIDs)
	assert.Equal(t, 3, result.Metrics.StudentsProcessed)
}

func TestSubmitRunsInBackground(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.runs.Start(ctx)
	defer f.runs.Stop()

	run, err := f.runs.Submit(ctx, mathRequest(), models.TriggerManual)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	updates, unsubscribe, err := f.runs.Subscribe(ctx, run.ID)
	require.NoError(t, err)
	defer unsubscribe()

	deadline := time.After(5 * time.Second)
	first := true
loop:
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				break loop
			}
			if first {
				assert.Equal(t, run.ID, update.RunID)
				first = false
			}
		case <-deadline:
			t.Fatal("run did not finish in time")
		}
	}

	finished, err := f.runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, finished.Status)
	assert.Equal(t, 100.0, finished.Progress)
	require.NotNil(t, finished.Result)
	assert.Len(t, finished.Result.Classes, 2)
	assert.Equal(t, 1, finished.Attempts)

	metrics, cached, err := f.runs.Metrics(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, metrics.ClassesScheduled)

	_, err = f.runs.Cancel(ctx, run.ID)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestSubmitRequiresStartedWorkers(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})
	_, err := f.runs.Submit(context.Background(), mathRequest(), models.TriggerManual)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnavailable))
}

func TestRunLookupsReportNotFound(t *testing.T) {
	f := newRunFixture(t, "two_slots.yaml", SchedulingRunConfig{})
	ctx := context.Background()

	_, err := f.runs.Get(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = f.runs.Cancel(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, _, err = f.runs.Subscribe(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, _, err = f.runs.Metrics(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
