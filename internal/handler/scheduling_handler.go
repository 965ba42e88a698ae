package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/class-scheduler-api/internal/dto"
	"github.com/noah-isme/class-scheduler-api/internal/middleware"
	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
	"github.com/noah-isme/class-scheduler-api/pkg/response"
)

const progressHeartbeat = 15 * time.Second

type schedulingRunService interface {
	Submit(ctx context.Context, req models.SchedulingRequest, trigger models.RunTrigger) (*models.SchedulingRun, error)
	Get(ctx context.Context, runID string) (*models.SchedulingRun, error)
	Cancel(ctx context.Context, runID string) (*models.SchedulingRun, error)
	Subscribe(ctx context.Context, runID string) (<-chan models.RunProgress, func(), error)
	Metrics(ctx context.Context, runID string) (*models.PerformanceMetrics, bool, error)
	Conflicts(ctx context.Context) ([]models.SchedulingConflict, error)
}

// SchedulingHandler exposes scheduling run endpoints.
type SchedulingHandler struct {
	service schedulingRunService
}

// NewSchedulingHandler constructs the handler.
func NewSchedulingHandler(svc schedulingRunService) *SchedulingHandler {
	return &SchedulingHandler{service: svc}
}

// CreateRun godoc
// @Summary Submit an asynchronous scheduling run
// @Description Queues a run for one course type. Poll the run or follow its progress stream.
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param payload body dto.CreateRunRequest true "Scheduling request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /scheduling/runs [post]
func (h *SchedulingHandler) CreateRun(c *gin.Context) {
	var req dto.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrValidation.WithCause(err, "invalid scheduling run payload"))
		return
	}
	run, err := h.service.Submit(c.Request.Context(), req.SchedulingRequest(actorFromContext(c)), models.TriggerManual)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, c.FullPath()+"/"+run.ID, run)
}

// GetRun godoc
// @Summary Get a scheduling run
// @Tags Scheduling
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scheduling/runs/{id} [get]
func (h *SchedulingHandler) GetRun(c *gin.Context) {
	run, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// Progress godoc
// @Summary Stream run progress
// @Description Server-sent events. Each `progress` event carries a RunProgress payload; the stream ends when the run is terminal.
// @Tags Scheduling
// @Produce text/event-stream
// @Param id path string true "Run ID"
// @Success 200 {object} models.RunProgress
// @Failure 404 {object} response.Envelope
// @Router /scheduling/runs/{id}/progress [get]
func (h *SchedulingHandler) Progress(c *gin.Context) {
	updates, unsubscribe, err := h.service.Subscribe(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Cache-Control", "no-store")
	c.Header("X-Accel-Buffering", "no")
	heartbeat := time.NewTicker(progressHeartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": time.Now().UTC()})
			return true
		case update, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("progress", update)
			return !update.Status.Terminal()
		}
	})
}

// CancelRun godoc
// @Summary Cancel a queued or running run
// @Tags Scheduling
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scheduling/runs/{id}/cancel [post]
func (h *SchedulingHandler) CancelRun(c *gin.Context) {
	run, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// RunMetrics godoc
// @Summary Performance metrics of a completed run
// @Tags Scheduling
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /scheduling/runs/{id}/metrics [get]
func (h *SchedulingHandler) RunMetrics(c *gin.Context) {
	start := time.Now()
	metrics, cacheHit, err := h.service.Metrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	middleware.SetMeta(c, "processing_time_ms", time.Since(start).Milliseconds())
	response.JSON(c, http.StatusOK, metrics, nil, responseMeta(c))
}

// Conflicts godoc
// @Summary Detect conflicts across active classes
// @Description Each conflict is returned with its ranked resolutions.
// @Tags Scheduling
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scheduling/conflicts [get]
func (h *SchedulingHandler) Conflicts(c *gin.Context) {
	conflicts, err := h.service.Conflicts(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if conflicts == nil {
		conflicts = []models.SchedulingConflict{}
	}
	response.JSON(c, http.StatusOK, conflicts, nil, map[string]interface{}{"total": len(conflicts)})
}
