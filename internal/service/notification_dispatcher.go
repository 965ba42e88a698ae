package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/pkg/jobs"
	"github.com/noah-isme/class-scheduler-api/pkg/notify"
)

const classEventJob = "class_event"

// ClassEventDispatcher delivers class notifications without blocking the caller.
type ClassEventDispatcher interface {
	Dispatch(events ...models.ClassEvent)
}

type noopClassEvents struct{}

func (noopClassEvents) Dispatch(...models.ClassEvent) {}

// NotificationDispatcher hands class events to a worker queue that publishes them.
// Events are dropped with a warning when the queue is full.
type NotificationDispatcher struct {
	queue     *jobs.Queue
	publisher notify.Publisher
	logger    *zap.Logger
}

// NotificationDispatcherConfig sizes the delivery queue.
type NotificationDispatcherConfig struct {
	Workers    int
	Buffer     int
	Retries    int
	RetryDelay time.Duration
}

// NewNotificationDispatcher constructs a dispatcher. Call Start before dispatching.
func NewNotificationDispatcher(publisher notify.Publisher, cfg NotificationDispatcherConfig, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = notify.NewLogPublisher(logger)
	}
	d := &NotificationDispatcher{publisher: publisher, logger: logger}
	d.queue = jobs.NewQueue("notifications", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.Buffer,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		OnGiveUp:   d.undeliverable,
		Logger:     logger,
	})
	return d
}

// Start begins delivery.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop halts delivery and closes the publisher.
func (d *NotificationDispatcher) Stop() {
	d.queue.Stop()
	if err := d.publisher.Close(); err != nil {
		d.logger.Warn("close publisher", zap.Error(err))
	}
}

// Dispatch enqueues events for delivery.
func (d *NotificationDispatcher) Dispatch(events ...models.ClassEvent) {
	for _, event := range events {
		if !d.queue.TryEnqueue(jobs.Job{ID: event.ID, Type: classEventJob, Payload: event}) {
			d.logger.Warn("class event dropped", zap.String("event_id", event.ID), zap.String("class_id", event.Class.ID))
		}
	}
}

func (d *NotificationDispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.ClassEvent)
	if !ok {
		d.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	return d.publisher.Publish(ctx, ClassEventSubject(event), event)
}

func (d *NotificationDispatcher) undeliverable(job jobs.Job, err error) {
	event, _ := job.Payload.(models.ClassEvent)
	d.logger.Error("class event undeliverable",
		zap.String("event_id", job.ID),
		zap.String("class_id", event.Class.ID),
		zap.String("subject", ClassEventSubject(event)),
		zap.Error(err),
	)
}

// ClassEventSubject names the subject an event is published on.
func ClassEventSubject(event models.ClassEvent) string {
	return fmt.Sprintf("%s.%s", event.Class.CourseType, event.Type)
}
