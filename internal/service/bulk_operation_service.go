package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

const (
	defaultBulkConcurrency = 4
	bulkRunAttempts        = 5
)

type bulkRunner interface {
	RunOnce(ctx context.Context, req models.SchedulingRequest, opts RunOptions) (*models.SchedulingResult, error)
}

type bulkReassigner interface {
	Reassign(ctx context.Context, r models.Reassignment, actor string) (*models.ScheduledClass, error)
}

type bulkResolver interface {
	Resolve(ctx context.Context, id string, decision models.ResolveDecision, reason, actor string) (*models.SchedulingRecommendation, error)
}

// BulkOperationService fans a bulk operation out over a bounded number of goroutines.
// One failing item never aborts the others.
type BulkOperationService struct {
	runs            bulkRunner
	overrides       bulkReassigner
	recommendations bulkResolver
	metrics         *MetricsService
	logger          *zap.Logger
	concurrency     int
	clock           func() time.Time
}

// NewBulkOperationService constructs the service.
func NewBulkOperationService(runs bulkRunner, overrides bulkReassigner, recommendations bulkResolver, metrics *MetricsService, concurrency int, logger *zap.Logger) *BulkOperationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = defaultBulkConcurrency
	}
	return &BulkOperationService{
		runs:            runs,
		overrides:       overrides,
		recommendations: recommendations,
		metrics:         metrics,
		logger:          logger,
		concurrency:     concurrency,
		clock:           func() time.Time { return time.Now().UTC() },
	}
}

type bulkOutcome struct {
	key     string
	err     error
	runID   string
	metrics *models.PerformanceMetrics
}

// Execute runs every item of op and reports per-item failures.
func (s *BulkOperationService) Execute(ctx context.Context, op models.BulkOperation, actor string) (*models.BulkOperationResult, error) {
	if err := op.Validate(); err != nil {
		return nil, appErrors.ErrValidation.WithCause(err, err.Error())
	}
	if actor == "" {
		actor = op.RequestedBy
	}
	if actor == "" {
		actor = systemActor
	}

	result := &models.BulkOperationResult{
		ID:        uuid.NewString(),
		Type:      op.Type,
		Total:     op.Size(),
		Errors:    []models.BulkItemError{},
		StartedAt: s.clock(),
	}
	outcomes := make([]bulkOutcome, op.Size())

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := 0; i < op.Size(); i++ {
		g.Go(func() error {
			outcomes[i] = s.item(ctx, op, i, actor)
			return nil
		})
	}
	_ = g.Wait()

	for i, outcome := range outcomes {
		s.metrics.RecordBulkItem(op.Type, outcome.err == nil)
		if outcome.err != nil {
			appErr := appErrors.FromError(outcome.err)
			result.Failed++
			result.Errors = append(result.Errors, models.BulkItemError{Index: i, Key: outcome.key, Code: appErr.Code, Message: appErr.Error()})
			continue
		}
		result.Succeeded++
		if outcome.runID != "" {
			result.RunIDs = append(result.RunIDs, outcome.runID)
		}
		if outcome.metrics != nil {
			result.Metrics = append(result.Metrics, *outcome.metrics)
		}
	}
	sort.SliceStable(result.Errors, func(i, j int) bool { return result.Errors[i].Index < result.Errors[j].Index })
	result.FinishedAt = s.clock()

	s.logger.Info("bulk operation finished",
		zap.String("bulk_id", result.ID),
		zap.String("type", string(op.Type)),
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.String("actor", actor),
	)
	return result, nil
}

func (s *BulkOperationService) item(ctx context.Context, op models.BulkOperation, i int, actor string) bulkOutcome {
	switch op.Type {
	case models.BulkBatchSchedule:
		req := op.Requests[i]
		if req.RequestedBy == "" {
			req.RequestedBy = actor
		}
		out := bulkOutcome{key: req.CourseType}
		res, err := s.runWithRetry(ctx, req)
		if err != nil {
			out.err = err
			return out
		}
		out.runID = res.RunID
		out.metrics = &res.Metrics
		return out
	case models.BulkBatchReassign:
		r := op.Reassignments[i]
		_, err := s.overrides.Reassign(ctx, r, actor)
		return bulkOutcome{key: r.ClassID, err: err}
	case models.BulkApproveRecommendations:
		id := op.RecommendationIDs[i]
		_, err := s.recommendations.Resolve(ctx, id, models.DecisionApprove, op.Reason, actor)
		return bulkOutcome{key: id, err: err}
	}
	return bulkOutcome{err: appErrors.Clone(appErrors.ErrValidation, "unknown bulk operation type")}
}

// runWithRetry repeats a run whose commit lost the race against a sibling item.
func (s *BulkOperationService) runWithRetry(ctx context.Context, req models.SchedulingRequest) (*models.SchedulingResult, error) {
	var lastErr error
	for attempt := 1; attempt <= bulkRunAttempts; attempt++ {
		res, err := s.runs.RunOnce(ctx, req, RunOptions{Trigger: models.TriggerBulk})
		if err == nil {
			return res, nil
		}
		if !appErrors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("bulk run retrying after stale commit", zap.String("course_type", req.CourseType), zap.Int("attempt", attempt))
	}
	return nil, lastErr
}
