package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/pkg/config"
)

type runSubmitter interface {
	Submit(ctx context.Context, req models.SchedulingRequest, trigger models.RunTrigger) (*models.SchedulingRun, error)
}

// AutoRunner submits one automatic run per configured course type on every cron tick.
type AutoRunner struct {
	runs    runSubmitter
	courses []string
	spec    string
	cron    *cron.Cron
	logger  *zap.Logger
	ctx     context.Context
}

// NewAutoRunner parses the standard 5-field cron expression from cfg.
func NewAutoRunner(runs runSubmitter, cfg config.AutoRunConfig, logger *zap.Logger) (*AutoRunner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	spec := strings.TrimSpace(cfg.Cron)
	if spec == "" {
		return nil, fmt.Errorf("auto-run cron expression is empty")
	}
	location := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load auto-run timezone %q: %w", tz, err)
		}
		location = loc
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parse auto-run cron %q: %w", spec, err)
	}

	r := &AutoRunner{
		runs:    runs,
		courses: append([]string(nil), cfg.Courses...),
		spec:    spec,
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(location)),
		logger:  logger,
		ctx:     context.Background(),
	}
	if _, err := r.cron.AddFunc(spec, func() { r.Tick(r.ctx) }); err != nil {
		return nil, fmt.Errorf("register auto-run: %w", err)
	}
	return r, nil
}

// Start begins ticking. Runs are submitted with ctx.
func (r *AutoRunner) Start(ctx context.Context) {
	r.ctx = ctx
	r.cron.Start()
	r.logger.Info("auto-run scheduled", zap.String("cron", r.spec), zap.Strings("courses", r.courses))
}

// Stop halts the scheduler and waits for a running tick to return.
func (r *AutoRunner) Stop() {
	<-r.cron.Stop().Done()
}

// Tick submits one run per course type and returns the ids that were queued.
func (r *AutoRunner) Tick(ctx context.Context) []string {
	ids := make([]string, 0, len(r.courses))
	for _, course := range r.courses {
		run, err := r.runs.Submit(ctx, models.SchedulingRequest{
			CourseType:  course,
			Constraints: models.DefaultConstraints(),
			RequestedBy: string(models.TriggerAutomatic),
		}, models.TriggerAutomatic)
		if err != nil {
			r.logger.Warn("auto-run submit failed", zap.String("course_type", course), zap.Error(err))
			continue
		}
		ids = append(ids, run.ID)
	}
	r.logger.Info("auto-run tick", zap.Int("submitted", len(ids)))
	return ids
}
