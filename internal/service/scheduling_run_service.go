package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
	"github.com/noah-isme/class-scheduler-api/pkg/jobs"
	"github.com/noah-isme/class-scheduler-api/pkg/middleware/requestid"
)

const (
	schedulingRunJob = "scheduling_run"
	tracerName       = "github.com/noah-isme/class-scheduler-api/internal/service"
)

// SchedulingDirectory reads the student, course and content directories.
type SchedulingDirectory interface {
	Course(ctx context.Context, courseType string) (*models.Course, error)
	Students(ctx context.Context, courseType string) ([]models.Student, error)
	Content(ctx context.Context, courseType string) ([]models.ContentItem, error)
	Progress(ctx context.Context, studentIDs []string) (map[string][]models.ProgressRecord, error)
}

// SchedulingRunConfig tunes the run pipeline and its worker pool.
type SchedulingRunConfig struct {
	RunTTL              time.Duration
	Workers             int
	Retries             int
	RetryDelay          time.Duration
	Passes              int
	MaxAlternatives     int
	ConfidenceThreshold float64
	Weights             GoalWeights
}

// RunProgressFunc receives progress in percent together with the current stage.
type RunProgressFunc func(progress float64, stage string)

// RunOptions carries per-run settings for RunOnce.
type RunOptions struct {
	RunID    string
	Trigger  models.RunTrigger
	Progress RunProgressFunc
}

// SchedulingRunService executes scheduling runs synchronously or on a worker pool.
type SchedulingRunService struct {
	directory       SchedulingDirectory
	store           ResourceStore
	recommendations *RecommendationService
	cache           *CacheService
	metrics         *MetricsService
	events          ClassEventDispatcher
	validator       *validator.Validate
	logger          *zap.Logger
	tracer          trace.Tracer
	clock           func() time.Time
	cfg             SchedulingRunConfig

	analyzer    *ProgressAnalyzer
	matcher     *CompatibilityMatcher
	optimizer   *SchedulingOptimizer
	detector    *ConflictDetector
	resolver    *ConflictResolver
	recommender *RecommendationGenerator
	aggregator  *MetricsAggregator

	registry *runRegistry
	queue    *jobs.Queue
}

// SchedulingRunOption configures the service.
type SchedulingRunOption func(*SchedulingRunService)

// WithRunCache stores run metrics in the cache.
func WithRunCache(cache *CacheService) SchedulingRunOption {
	return func(s *SchedulingRunService) {
		s.cache = cache
	}
}

// WithRunMetrics records run outcomes in prometheus.
func WithRunMetrics(metrics *MetricsService) SchedulingRunOption {
	return func(s *SchedulingRunService) {
		s.metrics = metrics
	}
}

// WithRunEvents sets the class event dispatcher.
func WithRunEvents(events ClassEventDispatcher) SchedulingRunOption {
	return func(s *SchedulingRunService) {
		if events != nil {
			s.events = events
		}
	}
}

// WithRunClock overrides the clock. Used by tests.
func WithRunClock(clock func() time.Time) SchedulingRunOption {
	return func(s *SchedulingRunService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithRunTracer overrides the tracer taken from the global provider.
func WithRunTracer(tracer trace.Tracer) SchedulingRunOption {
	return func(s *SchedulingRunService) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewSchedulingRunService wires the pipeline stages. Start must be called before Submit.
func NewSchedulingRunService(directory SchedulingDirectory, store ResourceStore, recommendations *RecommendationService, validate *validator.Validate, logger *zap.Logger, cfg SchedulingRunConfig, opts ...SchedulingRunOption) *SchedulingRunService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Weights == (GoalWeights{}) {
		cfg.Weights = DefaultGoalWeights()
	}

	svc := &SchedulingRunService{
		directory:       directory,
		store:           store,
		recommendations: recommendations,
		events:          noopClassEvents{},
		validator:       validate,
		logger:          logger,
		tracer:          otel.Tracer(tracerName),
		clock:           func() time.Time { return time.Now().UTC() },
		cfg:             cfg,
		analyzer:        NewProgressAnalyzer(),
		matcher:         NewCompatibilityMatcher(),
		optimizer:       NewSchedulingOptimizer(cfg.Passes, cfg.MaxAlternatives),
		detector:        NewConflictDetector(),
		resolver:        NewConflictResolver(),
		recommender:     NewRecommendationGenerator(cfg.ConfidenceThreshold),
		aggregator:      NewMetricsAggregator(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	svc.registry = newRunRegistry(cfg.RunTTL, svc.clock)
	svc.queue = jobs.NewQueue("scheduling-runs", svc.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.Workers * 16,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Retryable:  appErrors.IsRetryable,
		Logger:     logger,
	})
	return svc
}

// Start launches the run workers.
func (s *SchedulingRunService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the run workers.
func (s *SchedulingRunService) Stop() {
	s.queue.Stop()
}

// --- asynchronous runs ---

// Submit queues a run and returns it immediately.
func (s *SchedulingRunService) Submit(ctx context.Context, req models.SchedulingRequest, trigger models.RunTrigger) (*models.SchedulingRun, error) {
	req = normalizeRequest(req)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if !s.queue.Started() {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "scheduling workers are not running")
	}
	if trigger == "" {
		trigger = models.TriggerManual
	}

	run := models.SchedulingRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    models.RunStatusQueued,
		Stage:     "queued",
		Request:   req,
		CreatedAt: s.clock(),
	}
	s.registry.Save(run)
	if err := s.queue.Enqueue(jobs.Job{ID: run.ID, Type: schedulingRunJob, Payload: run.ID}); err != nil {
		s.registry.Update(run.ID, func(r *models.SchedulingRun) {
			finished := s.clock()
			r.Status = models.RunStatusFailed
			r.Error = err.Error()
			r.ErrorCode = appErrors.ErrUnavailable.Code
			r.FinishedAt = &finished
		})
		return nil, appErrors.ErrUnavailable.WithCause(err, "failed to queue scheduling run")
	}

	s.logger.Info("scheduling run queued",
		zap.String("run_id", run.ID),
		zap.String("course_type", req.CourseType),
		zap.String("trigger", string(trigger)),
		zap.String("request_id", requestid.FromContext(ctx)),
	)
	return &run, nil
}

// Get returns a run by id.
func (s *SchedulingRunService) Get(_ context.Context, runID string) (*models.SchedulingRun, error) {
	run, ok := s.registry.Get(runID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "scheduling run not found")
	}
	return &run, nil
}

// Cancel stops a queued or running run. A running run stops at its next checkpoint and
// cannot be cancelled once its commit has succeeded.
func (s *SchedulingRunService) Cancel(_ context.Context, runID string) (*models.SchedulingRun, error) {
	var terminal, running bool
	run, ok := s.registry.Update(runID, func(r *models.SchedulingRun) {
		switch {
		case r.Status.Terminal():
			terminal = true
		case r.Status == models.RunStatusQueued:
			finished := s.clock()
			r.Status = models.RunStatusCancelled
			r.Stage = "cancelled"
			r.Error = "cancelled before start"
			r.ErrorCode = appErrors.ErrRunCancelled.Code
			r.FinishedAt = &finished
		default:
			running = true
		}
	})
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "scheduling run not found")
	}
	if terminal {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("run is already %s", run.Status))
	}
	if running {
		if cancel := s.registry.CancelFunc(runID); cancel != nil {
			cancel()
		}
	} else {
		s.metrics.ObserveRun(run.Trigger, models.RunStatusCancelled, 0)
	}
	s.logger.Info("scheduling run cancel requested", zap.String("run_id", runID), zap.String("status", string(run.Status)))
	return &run, nil
}

// Subscribe streams progress for a run until it finishes.
func (s *SchedulingRunService) Subscribe(_ context.Context, runID string) (<-chan models.RunProgress, func(), error) {
	ch, unsubscribe, ok := s.registry.Subscribe(runID)
	if !ok {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "scheduling run not found")
	}
	return ch, unsubscribe, nil
}

// Metrics returns the performance metrics of a completed run and whether they came from the cache.
func (s *SchedulingRunService) Metrics(ctx context.Context, runID string) (*models.PerformanceMetrics, bool, error) {
	if cached, ok := s.cache.RunMetrics(ctx, runID); ok {
		return cached, true, nil
	}
	run, ok := s.registry.Get(runID)
	if !ok {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "scheduling run not found")
	}
	if run.Result == nil {
		return nil, false, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("run is %s", run.Status))
	}
	metrics := run.Result.Metrics
	s.cache.CacheRunMetrics(ctx, runID, metrics)
	return &metrics, false, nil
}

func (s *SchedulingRunService) handleJob(ctx context.Context, job jobs.Job) error {
	runID, _ := job.Payload.(string)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := s.clock()
	run, ok := s.registry.Update(runID, func(r *models.SchedulingRun) {
		if r.Status != models.RunStatusQueued {
			return
		}
		r.Status = models.RunStatusRunning
		r.Stage = "starting"
		r.Attempts = job.Attempt + 1
		if r.StartedAt == nil {
			r.StartedAt = &started
		}
	})
	if !ok || run.Status != models.RunStatusRunning {
		return nil
	}
	s.registry.SetCancel(runID, cancel)
	s.metrics.RunStarted()

	result, err := s.RunOnce(runCtx, run.Request, RunOptions{
		RunID:   runID,
		Trigger: run.Trigger,
		Progress: func(progress float64, stage string) {
			s.registry.Update(runID, func(r *models.SchedulingRun) {
				if r.Status == models.RunStatusRunning {
					r.Progress = progress
					r.Stage = stage
				}
			})
		},
	})
	finished := s.clock()
	duration := finished.Sub(started)

	if err != nil && appErrors.IsRetryable(err) && job.Attempt < s.cfg.Retries {
		s.registry.Update(runID, func(r *models.SchedulingRun) {
			r.Status = models.RunStatusQueued
			r.Stage = "retrying"
			r.Progress = 0
			r.Error = err.Error()
		})
		s.logger.Warn("scheduling run hit a stale resource model, retrying",
			zap.String("run_id", runID),
			zap.Int("attempt", job.Attempt+1),
		)
		return err
	}

	status := models.RunStatusCompleted
	if err != nil {
		status = models.RunStatusFailed
		if errors.Is(err, appErrors.ErrRunCancelled) {
			status = models.RunStatusCancelled
		}
	}
	s.registry.Update(runID, func(r *models.SchedulingRun) {
		r.Status = status
		r.FinishedAt = &finished
		r.Stage = string(status)
		if err != nil {
			r.Error = err.Error()
			r.ErrorCode = appErrors.FromError(err).Code
			return
		}
		r.Result = result
		r.Progress = 100
		r.Error = ""
		r.ErrorCode = ""
	})
	s.metrics.ObserveRun(run.Trigger, status, duration)

	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Duration("duration", duration),
	}
	if err != nil {
		s.logger.Warn("scheduling run finished", append(fields, zap.Error(err))...)
		return nil
	}
	s.logger.Info("scheduling run finished", fields...)
	return nil
}

// --- synchronous pipeline ---

// RunOnce executes a full scheduling run and commits the new classes.
func (s *SchedulingRunService) RunOnce(ctx context.Context, req models.SchedulingRequest, opts RunOptions) (*models.SchedulingResult, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Trigger == "" {
		opts.Trigger = models.TriggerManual
	}
	if opts.Progress == nil {
		opts.Progress = func(float64, string) {}
	}

	ctx, span := s.tracer.Start(ctx, "scheduling.run", trace.WithAttributes(
		attribute.String("run.id", opts.RunID),
		attribute.String("run.trigger", string(opts.Trigger)),
		attribute.String("course.type", req.CourseType),
	))
	defer span.End()

	result, err := s.execute(ctx, normalizeRequest(req), opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("run.classes", len(result.Classes)),
		attribute.Int("run.unscheduled", len(result.UnscheduledStudentIDs)),
		attribute.Int("run.conflicts", len(result.Conflicts)),
		attribute.Float64("run.score", result.OptimizationScore),
	)
	return result, nil
}

func (s *SchedulingRunService) execute(ctx context.Context, req models.SchedulingRequest, opts RunOptions) (*models.SchedulingResult, error) {
	started := s.clock()
	report := opts.Progress

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	report(5, "validated")

	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to load resource model")
	}
	course, catalog, students, err := s.loadCourse(ctx, req.CourseType)
	if err != nil {
		return nil, err
	}
	report(10, "loaded")

	pool, err := selectStudents(students, req.StudentIDs)
	if err != nil {
		return nil, err
	}
	fixed, superseded := partitionClasses(snapshot.Classes, req.CourseType, req.StudentIDs)
	pool = withCoSeated(pool, students, superseded)
	pool = withoutPinned(pool, snapshot.Classes, req.CourseType)

	poolIDs := make([]string, 0, len(pool))
	for _, student := range pool {
		poolIDs = append(poolIDs, student.ID)
	}
	histories, err := s.directory.Progress(ctx, poolIDs)
	if err != nil {
		return nil, wrapStoreError(err, "failed to load progress history")
	}
	report(20, "analyzing")

	now := s.clock()
	profiles, blocked, completed := s.buildProfiles(pool, histories, catalog, req.Constraints.EnforceContentSequencing, req.TimeRange, now)
	report(30, "matching")

	match := s.matcher.Match(req.CourseType, profiles, models.ClassBounds{Min: course.MinClassSize, Max: course.MaxClassSize})
	weights := ResolveGoalWeights(req.Goals, s.cfg.Weights)
	studentMap := studentsByID(students)
	blocks := snapshot.Blocks()

	optCtx, optSpan := s.tracer.Start(ctx, "scheduling.optimize", trace.WithAttributes(attribute.Int("groups", len(match.All()))))
	out, err := s.optimizer.Optimize(optCtx, OptimizerInput{
		Request:  req,
		Course:   *course,
		Groups:   match.All(),
		Teachers: snapshot.Teachers,
		Rooms:    snapshot.Rooms,
		Slots:    snapshot.Slots,
		Fixed:    fixed,
		Students: studentMap,
		Blocks:   blocks,
		Weights:  weights,
	}, func(done, total int) {
		if total > 0 {
			report(30+60*float64(done)/float64(total), "optimizing")
		}
	})
	if err != nil {
		optSpan.RecordError(err)
		optSpan.End()
		return nil, err
	}
	optSpan.SetAttributes(attribute.Int("iterations", out.Iterations), attribute.Int("improvements", out.Improvements))
	optSpan.End()
	report(90, "detecting")

	created, classIDs := s.buildClasses(out, *course, snapshot, opts.RunID, now)
	cancelled := make([]models.ScheduledClass, 0, len(superseded))
	for _, class := range superseded {
		next := class.Clone()
		next.Status = models.ClassStatusCancelled
		next.UpdatedAt = now
		cancelled = append(cancelled, next)
	}

	view := append(append([]models.ScheduledClass(nil), fixed...), created...)
	mastered := masteredContent(histories)
	rctx := ResolutionContext{
		Classes:     view,
		Teachers:    snapshot.Teachers,
		Rooms:       snapshot.Rooms,
		Slots:       snapshot.Slots,
		Content:     catalog,
		Students:    studentMap,
		Mastered:    mastered,
		Constraints: req.Constraints,
	}
	conflicts := s.detector.Detect(DetectionInput{
		Classes:           view,
		Teachers:          snapshot.Teachers,
		Content:           catalog,
		Mastered:          mastered,
		CheckAvailability: req.Constraints.HonorTeacherAvailability,
		EnforceSequencing: req.Constraints.EnforceContentSequencing,
		Now:               now,
	})
	conflicts = s.resolver.ResolveAll(conflicts, rctx)
	recs := s.recommender.Generate(RecommendationInput{
		RunID:    opts.RunID,
		Course:   *course,
		Output:   out,
		Context:  rctx,
		Blocks:   blocks,
		ClassIDs: classIDs,
		Weights:  weights,
		Now:      now,
	})

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	// Past this point the run is settled and a late cancel must not drop its side effects.
	settled := context.WithoutCancel(ctx)
	committed := snapshot.Version
	changes := models.ChangeSet{Classes: append(append([]models.ScheduledClass(nil), cancelled...), created...)}
	if !changes.Empty() {
		committed, err = s.store.Commit(settled, snapshot.Version, changes)
		if err != nil {
			if appErrors.IsRetryable(err) {
				s.metrics.RecordStaleCommit()
				return nil, err
			}
			return nil, wrapStoreError(err, "failed to commit scheduling run")
		}
	}
	report(95, "committed")

	if s.recommendations != nil {
		if err := s.recommendations.Record(settled, recs); err != nil {
			s.logger.Warn("failed to record recommendations", zap.String("run_id", opts.RunID), zap.Error(err))
		}
	}

	unscheduled := append([]string(nil), blocked...)
	for _, deferred := range out.Deferred {
		unscheduled = append(unscheduled, deferred.Group.StudentIDs...)
	}
	sort.Strings(unscheduled)

	classes := append([]models.ScheduledClass(nil), created...)
	for _, class := range snapshot.Classes {
		if class.CourseType == req.CourseType && class.Pinned() && class.Active() {
			classes = append(classes, class.Clone())
		}
	}

	metrics := s.aggregator.Aggregate(AggregationInput{
		Duration:          s.clock().Sub(started),
		StudentsProcessed: len(pool) - len(completed),
		Classes:           created,
		Unscheduled:       unscheduled,
		Conflicts:         conflicts,
		Slots:             snapshot.Slots,
		Iterations:        out.Iterations,
		Improvements:      out.Improvements,
	})

	result := &models.SchedulingResult{
		RunID:                 opts.RunID,
		CourseType:            req.CourseType,
		Classes:               classes,
		UnscheduledStudentIDs: unscheduled,
		CompletedStudentIDs:   completed,
		OptimizationScore:     out.OptimizationScore,
		Metrics:               metrics,
		Conflicts:             conflicts,
		Recommendations:       recs,
		SnapshotVersion:       snapshot.Version,
		CommittedVersion:      committed,
	}
	s.cache.CacheRunMetrics(settled, opts.RunID, metrics)
	s.metrics.ObserveResult(result)

	events := make([]models.ClassEvent, 0, len(created)+len(cancelled))
	for _, class := range cancelled {
		events = append(events, models.ClassEvent{ID: uuid.NewString(), Type: models.ClassEventCancelled, Class: class, Reason: "superseded by run " + opts.RunID, OccurredAt: now})
	}
	for _, class := range created {
		events = append(events, models.ClassEvent{ID: uuid.NewString(), Type: models.ClassEventCreated, Class: class, OccurredAt: now})
	}
	s.events.Dispatch(events...)

	s.logger.Info("scheduling run committed",
		zap.String("run_id", opts.RunID),
		zap.String("course_type", req.CourseType),
		zap.Int("classes", len(created)),
		zap.Int("superseded", len(cancelled)),
		zap.Int("unscheduled", len(unscheduled)),
		zap.Int("conflicts", len(conflicts)),
		zap.Int64("version", committed),
	)
	report(100, "completed")
	return result, nil
}

// Conflicts detects conflicts across every active class in the resource model.
func (s *SchedulingRunService) Conflicts(ctx context.Context) ([]models.SchedulingConflict, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.conflicts")
	defer span.End()

	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to load resource model")
	}
	active := activeClasses(snapshot.Classes)

	courseTypes := make(map[string]struct{})
	studentIDs := make(map[string]struct{})
	for _, class := range active {
		courseTypes[class.CourseType] = struct{}{}
		for _, id := range class.StudentIDs {
			studentIDs[id] = struct{}{}
		}
	}

	var catalog []models.ContentItem
	students := make(map[string]models.Student)
	for _, courseType := range sortedKeys(courseTypes) {
		content, err := s.directory.Content(ctx, courseType)
		if err != nil {
			return nil, wrapStoreError(err, "failed to load content")
		}
		catalog = append(catalog, content...)
		enrolled, err := s.directory.Students(ctx, courseType)
		if err != nil {
			return nil, wrapStoreError(err, "failed to load students")
		}
		for _, student := range enrolled {
			students[student.ID] = student
		}
	}
	histories, err := s.directory.Progress(ctx, sortedKeys(studentIDs))
	if err != nil {
		return nil, wrapStoreError(err, "failed to load progress history")
	}
	mastered := masteredContent(histories)

	conflicts := s.detector.Detect(DetectionInput{
		Classes:           active,
		Teachers:          snapshot.Teachers,
		Content:           catalog,
		Mastered:          mastered,
		CheckAvailability: true,
		EnforceSequencing: true,
		Now:               s.clock(),
	})
	conflicts = s.resolver.ResolveAll(conflicts, ResolutionContext{
		Classes:     active,
		Teachers:    snapshot.Teachers,
		Rooms:       snapshot.Rooms,
		Slots:       snapshot.Slots,
		Content:     catalog,
		Students:    students,
		Mastered:    mastered,
		Constraints: models.DefaultConstraints(),
	})
	span.SetAttributes(attribute.Int("conflicts", len(conflicts)))
	return conflicts, nil
}

// --- pipeline helpers ---

func normalizeRequest(req models.SchedulingRequest) models.SchedulingRequest {
	req.CourseType = strings.TrimSpace(req.CourseType)
	if len(req.StudentIDs) > 0 {
		seen := make(map[string]struct{}, len(req.StudentIDs))
		ids := make([]string, 0, len(req.StudentIDs))
		for _, id := range req.StudentIDs {
			id = strings.TrimSpace(id)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		sort.Strings(ids)
		req.StudentIDs = ids
	}
	return req
}

func (s *SchedulingRunService) validateRequest(req models.SchedulingRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.ErrValidation.WithCause(err, "invalid scheduling request")
	}
	from, to := req.TimeRange.From, req.TimeRange.To
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return appErrors.Clone(appErrors.ErrValidation, "time_range.to must be after time_range.from")
	}
	return nil
}

func (s *SchedulingRunService) loadCourse(ctx context.Context, courseType string) (*models.Course, []models.ContentItem, []models.Student, error) {
	course, err := s.directory.Course(ctx, courseType)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown course type %s", courseType))
		}
		return nil, nil, nil, wrapStoreError(err, "failed to load course")
	}
	catalog, err := s.directory.Content(ctx, courseType)
	if err != nil {
		return nil, nil, nil, wrapStoreError(err, "failed to load content")
	}
	if len(catalog) == 0 {
		return nil, nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("course type %s has no content", courseType))
	}
	students, err := s.directory.Students(ctx, courseType)
	if err != nil {
		return nil, nil, nil, wrapStoreError(err, "failed to load students")
	}
	return course, catalog, students, nil
}

// selectStudents narrows the enrolled students to the requested ids.
func selectStudents(students []models.Student, requested []string) ([]models.Student, error) {
	ordered := append([]models.Student(nil), students...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	if len(requested) == 0 {
		return ordered, nil
	}
	byID := studentsByID(ordered)
	pool := make([]models.Student, 0, len(requested))
	for _, id := range requested {
		student, ok := byID[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s is not enrolled in the course", id))
		}
		pool = append(pool, student)
	}
	return pool, nil
}

// partitionClasses splits active classes into fixed ones and proposed classes of the course
// that this run replaces. With an explicit student list only proposals touching those
// students are replaced.
func partitionClasses(classes []models.ScheduledClass, courseType string, requested []string) (fixed, superseded []models.ScheduledClass) {
	wanted := toSet(requested)
	for _, class := range classes {
		if !class.Active() {
			continue
		}
		if class.CourseType == courseType && class.Status == models.ClassStatusProposed && touches(class, wanted) {
			superseded = append(superseded, class)
			continue
		}
		fixed = append(fixed, class)
	}
	return fixed, superseded
}

func touches(class models.ScheduledClass, wanted map[string]struct{}) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, id := range class.StudentIDs {
		if _, ok := wanted[id]; ok {
			return true
		}
	}
	return false
}

// withCoSeated adds the enrolled classmates of superseded classes to the pool.
func withCoSeated(pool, enrolled []models.Student, superseded []models.ScheduledClass) []models.Student {
	if len(superseded) == 0 {
		return pool
	}
	inPool := make(map[string]struct{}, len(pool))
	for _, student := range pool {
		inPool[student.ID] = struct{}{}
	}
	byID := studentsByID(enrolled)
	grown := false
	for _, class := range superseded {
		for _, id := range class.StudentIDs {
			if _, ok := inPool[id]; ok {
				continue
			}
			student, ok := byID[id]
			if !ok {
				continue
			}
			inPool[id] = struct{}{}
			pool = append(pool, student)
			grown = true
		}
	}
	if grown {
		sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	}
	return pool
}

// withoutPinned drops students already seated in a confirmed or overridden class of the course.
func withoutPinned(pool []models.Student, classes []models.ScheduledClass, courseType string) []models.Student {
	seated := make(map[string]struct{})
	for _, class := range classes {
		if class.CourseType != courseType || !class.Pinned() || !class.Active() {
			continue
		}
		for _, id := range class.StudentIDs {
			seated[id] = struct{}{}
		}
	}
	if len(seated) == 0 {
		return pool
	}
	kept := make([]models.Student, 0, len(pool))
	for _, student := range pool {
		if _, ok := seated[student.ID]; !ok {
			kept = append(kept, student)
		}
	}
	return kept
}

// buildProfiles analyses each student. Students with no history are onboarded onto the first
// catalog item; students whose next item is gated by prerequisites are returned as blocked and
// students with nothing left to learn as completed.
func (s *SchedulingRunService) buildProfiles(pool []models.Student, histories map[string][]models.ProgressRecord, catalog []models.ContentItem, enforce bool, window models.TimeRange, now time.Time) ([]models.StudentProfile, []string, []string) {
	first := sortedCatalog(catalog)[0]
	profiles := make([]models.StudentProfile, 0, len(pool))
	var blocked, completed []string
	for _, student := range pool {
		bundle, err := s.analyzer.AnalyzeRange(student, histories[student.ID], catalog, window, now)
		if err != nil {
			profiles = append(profiles, models.StudentProfile{
				Student:    student,
				Bundle:     &models.UnlearnedContentBundle{StudentID: student.ID},
				Head:       models.UnlearnedItem{Content: first, Urgency: models.UrgencyMedium, PrerequisitesMet: true},
				Onboarding: true,
			})
			continue
		}
		if len(bundle.Items) == 0 {
			completed = append(completed, student.ID)
			continue
		}
		head := bundle.Head(enforce)
		if head == nil {
			blocked = append(blocked, student.ID)
			continue
		}
		profiles = append(profiles, models.StudentProfile{Student: student, Bundle: bundle, Head: *head})
	}
	return profiles, blocked, completed
}

// buildClasses turns assignments into proposed classes and maps group ids to class ids.
func (s *SchedulingRunService) buildClasses(out *OptimizerOutput, course models.Course, snapshot *models.ResourceSnapshot, runID string, now time.Time) ([]models.ScheduledClass, map[string]string) {
	classes := make([]models.ScheduledClass, 0, len(out.Assignments))
	ids := make(map[string]string, len(out.Assignments))
	for _, a := range out.Assignments {
		teacherName := a.TeacherID
		if teacher, ok := snapshot.Teacher(a.TeacherID); ok && teacher.Name != "" {
			teacherName = teacher.Name
		}

		minSize := course.MinClassSize
		if a.Group.ClassType == models.ClassTypeIndividual || minSize < 1 {
			minSize = 1
		}
		maxSize := a.Slot.Capacity.Free()
		if course.MaxClassSize > 0 && course.MaxClassSize < maxSize {
			maxSize = course.MaxClassSize
		}
		if maxSize < a.Group.Size() {
			maxSize = a.Group.Size()
		}
		slot := a.Slot
		slot.Capacity = models.Capacity{Min: minSize, Max: maxSize, CurrentEnrollment: a.Group.Size()}

		class := models.ScheduledClass{
			ID:              uuid.NewString(),
			CourseID:        course.ID,
			CourseType:      a.Group.CourseType,
			ContentID:       a.Group.Head.ID,
			Difficulty:      a.Group.Head.Difficulty,
			GroupID:         a.Group.ID,
			TeacherID:       a.TeacherID,
			StudentIDs:      append([]string(nil), a.Group.StudentIDs...),
			Slot:            slot,
			ClassType:       a.Group.ClassType,
			ConfidenceScore: a.Score,
			Breakdown:       a.Breakdown,
			Rationale:       rationale(a, teacherName),
			Alternatives:    append([]models.Alternative(nil), a.Alternatives...),
			Status:          models.ClassStatusProposed,
			RunID:           runID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		ids[a.Group.ID] = class.ID
		classes = append(classes, class)
	}
	return classes, ids
}

func studentsByID(students []models.Student) map[string]models.Student {
	byID := make(map[string]models.Student, len(students))
	for _, student := range students {
		byID[student.ID] = student
	}
	return byID
}

// masteredContent indexes passed content per student.
func masteredContent(histories map[string][]models.ProgressRecord) map[string]map[string]bool {
	mastered := make(map[string]map[string]bool, len(histories))
	for studentID, records := range histories {
		for _, record := range records {
			if !record.Passed {
				continue
			}
			if mastered[studentID] == nil {
				mastered[studentID] = make(map[string]bool)
			}
			mastered[studentID][record.ContentID] = true
		}
	}
	return mastered
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
