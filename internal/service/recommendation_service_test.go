package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

type recordingLifecycle struct {
	applied []models.SchedulingOverride
	classes []string
	placed  []PlaceClassRequest
	err     error
}

func (l *recordingLifecycle) Apply(_ context.Context, classID string, override models.SchedulingOverride) (*models.ScheduledClass, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.classes = append(l.classes, classID)
	l.applied = append(l.applied, override)
	return &models.ScheduledClass{ID: classID}, nil
}

func (l *recordingLifecycle) Place(_ context.Context, req PlaceClassRequest) (*models.ScheduledClass, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.placed = append(l.placed, req)
	return &models.ScheduledClass{ID: "placed"}, nil
}

var recommendationNow = time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)

func newRecommendationFixture(t *testing.T, lifecycle classLifecycle, recs ...models.SchedulingRecommendation) *RecommendationService {
	t.Helper()
	svc := NewRecommendationService(repository.NewMemoryRecommendationRepository(), zap.NewNop(),
		WithRecommendationLifecycle(lifecycle),
		WithRecommendationClock(func() time.Time { return recommendationNow }),
	)
	require.NoError(t, svc.Record(context.Background(), recs))
	return svc
}

func pendingRecommendation(id string, kind models.RecommendationType, params models.RecommendationParams) models.SchedulingRecommendation {
	return models.SchedulingRecommendation{
		ID:       id,
		RunID:    "run-1",
		Type:     kind,
		Priority: models.UrgencyMedium,
		Status:   models.RecommendationPending,
		Params:   params,
	}
}

func TestRecommendationServiceRejectAndTerminalState(t *testing.T) {
	svc := newRecommendationFixture(t, nil, pendingRecommendation("r1", models.RecommendationRegroup, models.RecommendationParams{}))
	ctx := context.Background()

	rec, err := svc.Resolve(ctx, "r1", models.DecisionReject, "  not now  ", "coordinator")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationRejected, rec.Status)
	assert.Equal(t, "coordinator", rec.ResolvedBy)
	assert.Equal(t, "not now", rec.ResolutionReason)
	require.NotNil(t, rec.ResolvedAt)
	assert.Equal(t, recommendationNow, *rec.ResolvedAt)

	_, err = svc.Resolve(ctx, "r1", models.DecisionApprove, "", "coordinator")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	stored, err := svc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationRejected, stored.Status)
}

func TestRecommendationServiceDeferThenApprove(t *testing.T) {
	lifecycle := &recordingLifecycle{}
	svc := newRecommendationFixture(t, lifecycle, pendingRecommendation("r1", models.RecommendationAlternativeTime, models.RecommendationParams{
		ClassID: "class-1", SlotID: "mon-10",
	}))
	ctx := context.Background()

	rec, err := svc.Resolve(ctx, "r1", models.DecisionDefer, "", "coordinator")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationDeferred, rec.Status)

	_, err = svc.Resolve(ctx, "r1", models.DecisionDefer, "", "coordinator")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	rec, err = svc.Resolve(ctx, "r1", models.DecisionApprove, "", "coordinator")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationApproved, rec.Status)

	require.Len(t, lifecycle.applied, 1)
	assert.Equal(t, []string{"class-1"}, lifecycle.classes)
	override := lifecycle.applied[0]
	assert.Equal(t, models.OverridePreferredTime, override.Type)
	assert.Equal(t, "mon-10", override.Params.SlotID)
	assert.Equal(t, "coordinator", override.AppliedBy)
	assert.Contains(t, override.Reason, "r1")
}

func TestRecommendationServiceApprovePlacesNewClass(t *testing.T) {
	lifecycle := &recordingLifecycle{}
	svc := newRecommendationFixture(t, lifecycle, pendingRecommendation("r1", models.RecommendationAlternativeTime, models.RecommendationParams{
		CourseType: "math", ContentID: "c1", TeacherID: "t1", SlotID: "mon-09", StudentIDs: []string{"a"},
	}))

	_, err := svc.Resolve(context.Background(), "r1", models.DecisionApprove, "cover the gap", "admin")
	require.NoError(t, err)

	require.Len(t, lifecycle.placed, 1)
	placed := lifecycle.placed[0]
	assert.Equal(t, "math", placed.CourseType)
	assert.Equal(t, "t1", placed.TeacherID)
	assert.Equal(t, "mon-09", placed.SlotID)
	assert.Equal(t, []string{"a"}, placed.StudentIDs)
	assert.Equal(t, "run-1", placed.RunID)
	assert.Equal(t, "cover the gap", placed.Reason)
}

func TestRecommendationServiceFailedApplyLeavesPending(t *testing.T) {
	lifecycle := &recordingLifecycle{err: appErrors.Clone(appErrors.ErrConflict, "slot taken")}
	svc := newRecommendationFixture(t, lifecycle, pendingRecommendation("r1", models.RecommendationAlternativeTeacher, models.RecommendationParams{
		ClassID: "class-1", TeacherID: "t2",
	}))
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "r1", models.DecisionApprove, "", "admin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	rec, err := svc.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationPending, rec.Status)
	assert.Nil(t, rec.ResolvedAt)
}

func TestRecommendationServiceApproveRequiresConcreteChange(t *testing.T) {
	svc := newRecommendationFixture(t, &recordingLifecycle{}, pendingRecommendation("r1", models.RecommendationAlternativeTime, models.RecommendationParams{
		CourseType: "math", StudentIDs: []string{"a"},
	}))
	_, err := svc.Resolve(context.Background(), "r1", models.DecisionApprove, "", "admin")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestRecommendationServiceApproveWithoutApplier(t *testing.T) {
	svc := newRecommendationFixture(t, nil, pendingRecommendation("r1", models.RecommendationRegroup, models.RecommendationParams{}))
	_, err := svc.Resolve(context.Background(), "r1", models.DecisionApprove, "", "admin")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestRecommendationServiceCustomApplier(t *testing.T) {
	var called *models.SchedulingRecommendation
	svc := NewRecommendationService(repository.NewMemoryRecommendationRepository(), zap.NewNop(),
		WithRecommendationAppliers(map[models.RecommendationType]RecommendationApplier{
			models.RecommendationRegroup: RecommendationApplierFunc(func(_ context.Context, rec *models.SchedulingRecommendation, _, _ string) error {
				called = rec
				return nil
			}),
		}),
	)
	require.NoError(t, svc.Record(context.Background(), []models.SchedulingRecommendation{
		pendingRecommendation("r1", models.RecommendationRegroup, models.RecommendationParams{}),
	}))

	_, err := svc.Resolve(context.Background(), "r1", models.DecisionApprove, "", "admin")
	require.NoError(t, err)
	require.NotNil(t, called)
	assert.Equal(t, "r1", called.ID)
}

func TestRecommendationServiceLookupsAndValidation(t *testing.T) {
	svc := newRecommendationFixture(t, nil,
		pendingRecommendation("r1", models.RecommendationRegroup, models.RecommendationParams{}),
		pendingRecommendation("r2", models.RecommendationAlternativeTime, models.RecommendationParams{}),
	)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.Resolve(ctx, "r1", models.ResolveDecision("maybe"), "", "admin")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	regroup := models.RecommendationRegroup
	list, err := svc.List(ctx, models.RecommendationFilter{Type: &regroup})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)

	all, err := svc.List(ctx, models.RecommendationFilter{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
