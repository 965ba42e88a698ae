package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// RecommendationStore persists recommendations.
type RecommendationStore interface {
	SaveBatch(ctx context.Context, recs []models.SchedulingRecommendation) error
	List(ctx context.Context, filter models.RecommendationFilter) ([]models.SchedulingRecommendation, error)
	FindByID(ctx context.Context, id string) (*models.SchedulingRecommendation, error)
	Update(ctx context.Context, rec *models.SchedulingRecommendation) error
}

// classLifecycle is the part of the override manager an approved recommendation drives.
type classLifecycle interface {
	Apply(ctx context.Context, classID string, override models.SchedulingOverride) (*models.ScheduledClass, error)
	Place(ctx context.Context, req PlaceClassRequest) (*models.ScheduledClass, error)
}

// RecommendationApplier carries out an approved recommendation.
type RecommendationApplier interface {
	Apply(ctx context.Context, rec *models.SchedulingRecommendation, actor, reason string) error
}

// RecommendationApplierFunc allows using plain functions.
type RecommendationApplierFunc func(ctx context.Context, rec *models.SchedulingRecommendation, actor, reason string) error

// Apply implements RecommendationApplier.
func (f RecommendationApplierFunc) Apply(ctx context.Context, rec *models.SchedulingRecommendation, actor, reason string) error {
	return f(ctx, rec, actor, reason)
}

// RecommendationService stores recommendations and applies operator decisions.
type RecommendationService struct {
	repo     RecommendationStore
	appliers map[models.RecommendationType]RecommendationApplier
	locks    *keyedMutex
	logger   *zap.Logger
	clock    func() time.Time
}

// RecommendationServiceOption configures the service.
type RecommendationServiceOption func(*RecommendationService)

// WithRecommendationAppliers sets appliers keyed by recommendation type.
func WithRecommendationAppliers(appliers map[models.RecommendationType]RecommendationApplier) RecommendationServiceOption {
	return func(s *RecommendationService) {
		for k, v := range appliers {
			s.appliers[k] = v
		}
	}
}

// WithRecommendationLifecycle installs the default appliers that act through the override manager.
func WithRecommendationLifecycle(lifecycle classLifecycle) RecommendationServiceOption {
	return func(s *RecommendationService) {
		if lifecycle == nil {
			return
		}
		applier := lifecycleApplier{lifecycle: lifecycle}
		for _, kind := range []models.RecommendationType{
			models.RecommendationAlternativeTime,
			models.RecommendationAlternativeTeacher,
			models.RecommendationRegroup,
			models.RecommendationImproveAssignment,
		} {
			s.appliers[kind] = applier
		}
	}
}

// WithRecommendationClock overrides the time source.
func WithRecommendationClock(clock func() time.Time) RecommendationServiceOption {
	return func(s *RecommendationService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewRecommendationService constructs the service.
func NewRecommendationService(repo RecommendationStore, logger *zap.Logger, opts ...RecommendationServiceOption) *RecommendationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RecommendationService{
		repo:     repo,
		appliers: make(map[models.RecommendationType]RecommendationApplier),
		locks:    newKeyedMutex(),
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Record persists freshly generated recommendations.
func (s *RecommendationService) Record(ctx context.Context, recs []models.SchedulingRecommendation) error {
	if len(recs) == 0 {
		return nil
	}
	if err := s.repo.SaveBatch(ctx, recs); err != nil {
		return appErrors.ErrInternal.WithCause(err, "failed to store recommendations")
	}
	return nil
}

// List returns recommendations matching the filter.
func (s *RecommendationService) List(ctx context.Context, filter models.RecommendationFilter) ([]models.SchedulingRecommendation, error) {
	recs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.ErrInternal.WithCause(err, "failed to list recommendations")
	}
	return recs, nil
}

// Get returns one recommendation.
func (s *RecommendationService) Get(ctx context.Context, id string) (*models.SchedulingRecommendation, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "recommendation not found")
		}
		return nil, appErrors.ErrInternal.WithCause(err, "failed to load recommendation")
	}
	return rec, nil
}

// Resolve records an operator decision. Approval applies the change first and leaves the
// recommendation untouched when applying fails.
func (s *RecommendationService) Resolve(ctx context.Context, id string, decision models.ResolveDecision, reason, actor string) (*models.SchedulingRecommendation, error) {
	unlock := s.locks.Lock("recommendation:" + id)
	defer unlock()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := nextRecommendationStatus(rec.Status, decision)
	if err != nil {
		return nil, err
	}

	if next == models.RecommendationApproved {
		applier := s.appliers[rec.Type]
		if applier == nil {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("no applier for recommendation type %s", rec.Type))
		}
		if err := applier.Apply(ctx, rec, actor, reason); err != nil {
			s.logger.Warn("recommendation apply failed", zap.String("recommendation_id", rec.ID), zap.Error(err))
			return nil, err
		}
	}

	now := s.clock()
	rec.Status = next
	rec.ResolvedBy = actor
	rec.ResolvedAt = &now
	rec.ResolutionReason = strings.TrimSpace(reason)
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, appErrors.ErrInternal.WithCause(err, "failed to update recommendation")
	}
	s.logger.Info("recommendation resolved",
		zap.String("recommendation_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.String("actor", actor),
	)
	return rec, nil
}

func nextRecommendationStatus(current models.RecommendationStatus, decision models.ResolveDecision) (models.RecommendationStatus, error) {
	var next models.RecommendationStatus
	switch decision {
	case models.DecisionApprove:
		next = models.RecommendationApproved
	case models.DecisionReject:
		next = models.RecommendationRejected
	case models.DecisionDefer:
		next = models.RecommendationDeferred
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown decision %q", decision))
	}
	switch current {
	case models.RecommendationPending:
		return next, nil
	case models.RecommendationDeferred:
		if next != models.RecommendationDeferred {
			return next, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot %s a %s recommendation", decision, current))
}

// lifecycleApplier maps recommendation params onto override manager calls. Params naming a
// class become overrides on it; params naming a group become a new class.
type lifecycleApplier struct {
	lifecycle classLifecycle
}

func (a lifecycleApplier) Apply(ctx context.Context, rec *models.SchedulingRecommendation, actor, reason string) error {
	p := rec.Params
	if strings.TrimSpace(reason) == "" {
		reason = fmt.Sprintf("approved recommendation %s", rec.ID)
	}
	if p.ClassID != "" {
		override := models.SchedulingOverride{Reason: reason, AppliedBy: actor, Priority: rec.Priority}
		switch {
		case p.SlotID != "":
			override.Type = models.OverridePreferredTime
			override.Params = models.OverrideParams{TeacherID: p.TeacherID, SlotID: p.SlotID}
		case p.TeacherID != "":
			override.Type = models.OverridePreferredTeacher
			override.Params = models.OverrideParams{TeacherID: p.TeacherID}
		default:
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "recommendation has no concrete change to apply")
		}
		_, err := a.lifecycle.Apply(ctx, p.ClassID, override)
		return err
	}
	if p.TeacherID == "" || p.SlotID == "" || len(p.StudentIDs) == 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "recommendation needs a new slot before it can be applied")
	}
	_, err := a.lifecycle.Place(ctx, PlaceClassRequest{
		CourseType: p.CourseType,
		ContentID:  p.ContentID,
		Difficulty: p.Difficulty,
		TeacherID:  p.TeacherID,
		SlotID:     p.SlotID,
		StudentIDs: p.StudentIDs,
		RunID:      rec.RunID,
		Reason:     reason,
		Actor:      actor,
	})
	return err
}
