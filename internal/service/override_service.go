package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
	"github.com/noah-isme/class-scheduler-api/pkg/middleware/requestid"
)

const (
	defaultCommitAttempts = 3
	systemActor           = "system"
)

// PlaceClassRequest creates an operator-approved class outside a run.
type PlaceClassRequest struct {
	CourseType string   `json:"course_type" validate:"required"`
	CourseID   string   `json:"course_id"`
	ContentID  string   `json:"content_id"`
	Difficulty int      `json:"difficulty" validate:"min=0"`
	TeacherID  string   `json:"teacher_id" validate:"required"`
	SlotID     string   `json:"slot_id" validate:"required"`
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,required"`
	RunID      string   `json:"run_id"`
	Reason     string   `json:"reason"`
	Actor      string   `json:"actor"`
}

// OverrideService owns the class lifecycle: confirmations, overrides and cancellations.
// Writes are serialised per class id and committed against the resource model version.
type OverrideService struct {
	store     ResourceStore
	locks     *keyedMutex
	events    ClassEventDispatcher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	attempts  int
	clock     func() time.Time
}

// OverrideServiceOption configures the service.
type OverrideServiceOption func(*OverrideService)

// WithOverrideEvents sets the class event dispatcher.
func WithOverrideEvents(events ClassEventDispatcher) OverrideServiceOption {
	return func(s *OverrideService) {
		if events != nil {
			s.events = events
		}
	}
}

// WithOverrideMetrics records override counters.
func WithOverrideMetrics(metrics *MetricsService) OverrideServiceOption {
	return func(s *OverrideService) {
		s.metrics = metrics
	}
}

// WithOverrideCommitAttempts sets how often a commit is retried on a stale version.
func WithOverrideCommitAttempts(attempts int) OverrideServiceOption {
	return func(s *OverrideService) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithOverrideClock overrides the time source.
func WithOverrideClock(clock func() time.Time) OverrideServiceOption {
	return func(s *OverrideService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewOverrideService constructs the override manager.
func NewOverrideService(store ResourceStore, validate *validator.Validate, logger *zap.Logger, opts ...OverrideServiceOption) *OverrideService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &OverrideService{
		store:     store,
		locks:     newKeyedMutex(),
		events:    noopClassEvents{},
		validator: validate,
		logger:    logger,
		attempts:  defaultCommitAttempts,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Apply appends an override to a class and commits the changed class.
func (s *OverrideService) Apply(ctx context.Context, classID string, override models.SchedulingOverride) (*models.ScheduledClass, error) {
	if err := s.validateOverride(override); err != nil {
		return nil, err
	}
	now := s.clock()
	override.ID = uuid.NewString()
	override.ClassID = classID
	override.Reason = strings.TrimSpace(override.Reason)
	override.AppliedAt = now
	if override.AppliedBy == "" {
		override.AppliedBy = systemActor
	}
	if override.Priority == "" {
		override.Priority = models.UrgencyMedium
	}

	unlock := s.locks.Lock(classID)
	defer unlock()

	var updated models.ScheduledClass
	var recorded models.SchedulingOverride
	_, version, err := commitWithRetry(ctx, s.store, s.attempts, s.logger, func(snapshot *models.ResourceSnapshot) (models.ChangeSet, error) {
		class, ok := snapshot.Class(classID)
		if !ok {
			return models.ChangeSet{}, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		next, ov, err := s.applyOverride(snapshot, class, override, now)
		if err != nil {
			return models.ChangeSet{}, err
		}
		updated, recorded = next, ov
		return models.ChangeSet{Classes: []models.ScheduledClass{next}, Overrides: []models.SchedulingOverride{ov}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOverride(string(recorded.Type))
	s.logger.Info("override applied",
		zap.String("class_id", classID),
		zap.String("type", string(recorded.Type)),
		zap.String("actor", recorded.AppliedBy),
		zap.Int64("version", version),
		zap.String("request_id", requestid.FromContext(ctx)),
	)
	s.events.Dispatch(models.ClassEvent{
		ID:         uuid.NewString(),
		Type:       models.ClassEventChanged,
		Class:      updated,
		Reason:     recorded.Reason,
		OccurredAt: now,
	})
	return &updated, nil
}

func (s *OverrideService) validateOverride(override models.SchedulingOverride) error {
	if strings.TrimSpace(override.Reason) == "" {
		return appErrors.Clone(appErrors.ErrInvalidOverride, "override reason is required")
	}
	if err := s.validator.Struct(override); err != nil {
		return appErrors.ErrInvalidOverride.WithCause(err, "invalid override")
	}
	switch override.Type {
	case models.OverrideForceSchedule:
		if override.Params.TeacherID == "" || override.Params.SlotID == "" {
			return appErrors.Clone(appErrors.ErrInvalidOverride, "force_schedule needs teacher_id and slot_id")
		}
	case models.OverridePreferredTeacher:
		if override.Params.TeacherID == "" {
			return appErrors.Clone(appErrors.ErrInvalidOverride, "preferred_teacher needs teacher_id")
		}
	case models.OverridePreferredTime:
		if override.Params.SlotID == "" {
			return appErrors.Clone(appErrors.ErrInvalidOverride, "preferred_time needs slot_id")
		}
	case models.OverrideClassSize:
		if override.Params.MaxStudents < 1 {
			return appErrors.Clone(appErrors.ErrInvalidOverride, "class_size needs max_students of at least 1")
		}
	}
	return nil
}

// applyOverride computes the class after the override. It runs inside the commit loop so it
// must only read the snapshot.
func (s *OverrideService) applyOverride(snapshot *models.ResourceSnapshot, class models.ScheduledClass, override models.SchedulingOverride, now time.Time) (models.ScheduledClass, models.SchedulingOverride, error) {
	if class.Status == models.ClassStatusCancelled {
		return models.ScheduledClass{}, models.SchedulingOverride{}, appErrors.Clone(appErrors.ErrInvalidOverride, "cannot override a cancelled class")
	}
	next := class.Clone()
	index := newBookingIndex(snapshot.Classes)
	params := override.Params

	switch override.Type {
	case models.OverrideForceSchedule:
		if _, ok := snapshot.Teacher(params.TeacherID); !ok {
			return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrInvalidOverride, fmt.Sprintf("unknown teacher %s", params.TeacherID))
		}
		slot, ok := snapshot.Slot(params.SlotID)
		if !ok {
			return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrInvalidOverride, fmt.Sprintf("unknown slot %s", params.SlotID))
		}
		next.TeacherID = params.TeacherID
		next.Slot = classSlot(slot, class)
		next.Suspended = false

	case models.OverridePreventSchedule:
		if params.TeacherID == "" {
			params.TeacherID = class.TeacherID
		}
		if params.SlotID == "" {
			params.SlotID = class.Slot.ID
		}
		next.Suspended = true

	case models.OverridePreferredTeacher:
		teacher, ok := snapshot.Teacher(params.TeacherID)
		if !ok {
			return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrInvalidOverride, fmt.Sprintf("unknown teacher %s", params.TeacherID))
		}
		if !teacher.CertifiedFor(class.CourseType, class.Difficulty) {
			return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrInvalidOverride, fmt.Sprintf("teacher %s is not certified for %s at level %d", teacher.ID, class.CourseType, class.Difficulty))
		}
		if class.Active() && !index.teacherFree(teacher.ID, class.Slot, class.ID) {
			return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("teacher %s is booked at that time", teacher.ID))
		}
		next.TeacherID = teacher.ID

	case models.OverridePreferredTime:
		slot, ok := snapshot.Slot(params.SlotID)
		if !ok {
			return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrInvalidOverride, fmt.Sprintf("unknown slot %s", params.SlotID))
		}
		teacherID := class.TeacherID
		if params.TeacherID != "" {
			teacher, ok := snapshot.Teacher(params.TeacherID)
			if !ok {
				return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrInvalidOverride, fmt.Sprintf("unknown teacher %s", params.TeacherID))
			}
			if !teacher.CertifiedFor(class.CourseType, class.Difficulty) {
				return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrInvalidOverride, fmt.Sprintf("teacher %s is not certified for %s at level %d", teacher.ID, class.CourseType, class.Difficulty))
			}
			teacherID = teacher.ID
		}
		if len(class.StudentIDs) > slot.Capacity.Free() {
			return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrInvalidOverride, fmt.Sprintf("slot %s cannot hold %d students", slot.ID, len(class.StudentIDs)))
		}
		if !index.canPlace(teacherID, slot, class.StudentIDs, class.ID) {
			return models.ScheduledClass{}, override, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("slot %s is already booked", slot.ID))
		}
		next.TeacherID = teacherID
		next.Slot = classSlot(slot, class)

	case models.OverrideClassSize:
		limit := params.MaxStudents
		next.Slot.Capacity.Max = limit
		if next.Slot.Capacity.Min > limit {
			next.Slot.Capacity.Min = limit
		}
		if len(next.StudentIDs) > limit {
			sort.Strings(next.StudentIDs)
			next.StudentIDs = next.StudentIDs[:limit]
		}
		next.Slot.Capacity.CurrentEnrollment = len(next.StudentIDs)
		if len(next.StudentIDs) == 1 {
			next.ClassType = models.ClassTypeIndividual
		}
	}

	override.Params = params
	// A proposed class is confirmed and overridden in one step.
	next.Status = models.ClassStatusOverridden
	next.UpdatedAt = now
	return next, override, nil
}

// classSlot copies a slot onto a class keeping the class's own size bounds where tighter.
func classSlot(slot models.TimeSlot, class models.ScheduledClass) models.TimeSlot {
	out := slot
	max := slot.Capacity.Free()
	if class.Slot.Capacity.Max > 0 && class.Slot.Capacity.Max < max {
		max = class.Slot.Capacity.Max
	}
	out.Capacity = models.Capacity{
		Min:               class.Slot.Capacity.Min,
		Max:               max,
		CurrentEnrollment: len(class.StudentIDs),
	}
	return out
}

// Confirm moves a proposed class to confirmed.
func (s *OverrideService) Confirm(ctx context.Context, classID, actor string) (*models.ScheduledClass, error) {
	return s.transition(ctx, classID, actor, "", func(class models.ScheduledClass) (models.ScheduledClass, error) {
		if class.Status != models.ClassStatusProposed {
			return class, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot confirm a %s class", class.Status))
		}
		class.Status = models.ClassStatusConfirmed
		return class, nil
	})
}

// Cancel moves any live class to cancelled and releases its resources.
func (s *OverrideService) Cancel(ctx context.Context, classID, reason, actor string) (*models.ScheduledClass, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cancellation reason is required")
	}
	return s.transition(ctx, classID, actor, reason, func(class models.ScheduledClass) (models.ScheduledClass, error) {
		if class.Status == models.ClassStatusCancelled {
			return class, appErrors.Clone(appErrors.ErrInvalidTransition, "class is already cancelled")
		}
		class.Status = models.ClassStatusCancelled
		return class, nil
	})
}

func (s *OverrideService) transition(ctx context.Context, classID, actor, reason string, change func(models.ScheduledClass) (models.ScheduledClass, error)) (*models.ScheduledClass, error) {
	if actor == "" {
		actor = systemActor
	}
	unlock := s.locks.Lock(classID)
	defer unlock()

	now := s.clock()
	var updated models.ScheduledClass
	_, version, err := commitWithRetry(ctx, s.store, s.attempts, s.logger, func(snapshot *models.ResourceSnapshot) (models.ChangeSet, error) {
		class, ok := snapshot.Class(classID)
		if !ok {
			return models.ChangeSet{}, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		next, err := change(class.Clone())
		if err != nil {
			return models.ChangeSet{}, err
		}
		next.UpdatedAt = now
		updated = next
		return models.ChangeSet{Classes: []models.ScheduledClass{next}}, nil
	})
	if err != nil {
		return nil, err
	}

	eventType := models.ClassEventChanged
	if updated.Status == models.ClassStatusCancelled {
		eventType = models.ClassEventCancelled
	}
	s.logger.Info("class status changed",
		zap.String("class_id", classID),
		zap.String("status", string(updated.Status)),
		zap.String("actor", actor),
		zap.Int64("version", version),
	)
	s.events.Dispatch(models.ClassEvent{ID: uuid.NewString(), Type: eventType, Class: updated, Reason: reason, OccurredAt: now})
	return &updated, nil
}

// Place creates a confirmed class on a free (teacher, slot) pair.
func (s *OverrideService) Place(ctx context.Context, req PlaceClassRequest) (*models.ScheduledClass, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.WithCause(err, "invalid class placement")
	}
	actor := req.Actor
	if actor == "" {
		actor = systemActor
	}
	studentIDs := append([]string(nil), req.StudentIDs...)
	sort.Strings(studentIDs)
	now := s.clock()
	classID := uuid.NewString()

	unlock := s.locks.Lock(classID)
	defer unlock()

	var created models.ScheduledClass
	_, version, err := commitWithRetry(ctx, s.store, s.attempts, s.logger, func(snapshot *models.ResourceSnapshot) (models.ChangeSet, error) {
		teacher, ok := snapshot.Teacher(req.TeacherID)
		if !ok {
			return models.ChangeSet{}, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("teacher %s not found", req.TeacherID))
		}
		if !teacher.CertifiedFor(req.CourseType, req.Difficulty) {
			return models.ChangeSet{}, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("teacher %s is not certified for %s", teacher.ID, req.CourseType))
		}
		slot, ok := snapshot.Slot(req.SlotID)
		if !ok {
			return models.ChangeSet{}, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("slot %s not found", req.SlotID))
		}
		if len(studentIDs) > slot.Capacity.Free() {
			return models.ChangeSet{}, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("slot %s cannot hold %d students", slot.ID, len(studentIDs)))
		}
		if !newBookingIndex(snapshot.Classes).canPlace(teacher.ID, slot, studentIDs, "") {
			return models.ChangeSet{}, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("slot %s or its participants are already booked", slot.ID))
		}

		classType := models.ClassTypeGroup
		if len(studentIDs) == 1 {
			classType = models.ClassTypeIndividual
		}
		placed := slot
		placed.Capacity = models.Capacity{Min: 1, Max: slot.Capacity.Free(), CurrentEnrollment: len(studentIDs)}
		created = models.ScheduledClass{
			ID:         classID,
			CourseID:   req.CourseID,
			CourseType: req.CourseType,
			ContentID:  req.ContentID,
			Difficulty: req.Difficulty,
			TeacherID:  teacher.ID,
			StudentIDs: studentIDs,
			Slot:       placed,
			ClassType:  classType,
			Rationale:  fmt.Sprintf("placed by %s: %s", actor, strings.TrimSpace(req.Reason)),
			Status:     models.ClassStatusConfirmed,
			RunID:      req.RunID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return models.ChangeSet{Classes: []models.ScheduledClass{created}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("class placed", zap.String("class_id", classID), zap.String("actor", actor), zap.Int64("version", version))
	s.events.Dispatch(models.ClassEvent{ID: uuid.NewString(), Type: models.ClassEventCreated, Class: created, Reason: req.Reason, OccurredAt: now})
	return &created, nil
}

// Reassign moves a class to another teacher and/or slot without breaking any booking.
func (s *OverrideService) Reassign(ctx context.Context, r models.Reassignment, actor string) (*models.ScheduledClass, error) {
	override := models.SchedulingOverride{Reason: r.Reason, AppliedBy: actor}
	switch {
	case r.SlotID != "":
		override.Type = models.OverridePreferredTime
		override.Params = models.OverrideParams{TeacherID: r.TeacherID, SlotID: r.SlotID}
	case r.TeacherID != "":
		override.Type = models.OverridePreferredTeacher
		override.Params = models.OverrideParams{TeacherID: r.TeacherID}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher_id or slot_id is required")
	}
	return s.Apply(ctx, r.ClassID, override)
}

// History returns the override history of a class in application order.
func (s *OverrideService) History(ctx context.Context, classID string) ([]models.SchedulingOverride, error) {
	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to load resource model")
	}
	if _, ok := snapshot.Class(classID); !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	history := snapshot.History(classID)
	if history == nil {
		history = []models.SchedulingOverride{}
	}
	return history, nil
}

// Effective returns the latest override of each type for a class.
func (s *OverrideService) Effective(ctx context.Context, classID string) (map[models.OverrideType]models.SchedulingOverride, error) {
	history, err := s.History(ctx, classID)
	if err != nil {
		return nil, err
	}
	effective := make(map[models.OverrideType]models.SchedulingOverride, len(history))
	for _, o := range history {
		effective[o.Type] = o
	}
	return effective, nil
}

// Class returns one class from the resource model.
func (s *OverrideService) Class(ctx context.Context, classID string) (*models.ScheduledClass, error) {
	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to load resource model")
	}
	class, ok := snapshot.Class(classID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	return &class, nil
}
