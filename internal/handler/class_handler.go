package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/class-scheduler-api/internal/dto"
	"github.com/noah-isme/class-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
	"github.com/noah-isme/class-scheduler-api/pkg/response"
)

type classLifecycleService interface {
	Class(ctx context.Context, classID string) (*models.ScheduledClass, error)
	Apply(ctx context.Context, classID string, override models.SchedulingOverride) (*models.ScheduledClass, error)
	History(ctx context.Context, classID string) ([]models.SchedulingOverride, error)
	Effective(ctx context.Context, classID string) (map[models.OverrideType]models.SchedulingOverride, error)
	Confirm(ctx context.Context, classID, actor string) (*models.ScheduledClass, error)
	Cancel(ctx context.Context, classID, reason, actor string) (*models.ScheduledClass, error)
}

// ClassHandler exposes scheduled class lifecycle and override endpoints.
type ClassHandler struct {
	service classLifecycleService
}

// NewClassHandler constructs the handler.
func NewClassHandler(svc classLifecycleService) *ClassHandler {
	return &ClassHandler{service: svc}
}

// Get godoc
// @Summary Get a scheduled class
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scheduling/classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	class, err := h.service.Class(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// ApplyOverride godoc
// @Summary Apply an override to a class
// @Description Overridden classes are pinned and never moved by later runs.
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body dto.ApplyOverrideRequest true "Override"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scheduling/classes/{id}/overrides [post]
func (h *ClassHandler) ApplyOverride(c *gin.Context) {
	var req dto.ApplyOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrValidation.WithCause(err, "invalid override payload"))
		return
	}
	class, err := h.service.Apply(c.Request.Context(), c.Param("id"), req.Override(actorFromContext(c)))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// Overrides godoc
// @Summary Override history of a class
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /scheduling/classes/{id}/overrides [get]
func (h *ClassHandler) Overrides(c *gin.Context) {
	classID := c.Param("id")
	history, err := h.service.History(c.Request.Context(), classID)
	if err != nil {
		response.Error(c, err)
		return
	}
	effective, err := h.service.Effective(c.Request.Context(), classID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if history == nil {
		history = []models.SchedulingOverride{}
	}
	response.JSON(c, http.StatusOK, dto.ClassOverridesResponse{ClassID: classID, History: history, Effective: effective}, nil)
}

// Confirm godoc
// @Summary Confirm a proposed class
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scheduling/classes/{id}/confirm [post]
func (h *ClassHandler) Confirm(c *gin.Context) {
	class, err := h.service.Confirm(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Cancel godoc
// @Summary Cancel a class
// @Tags Classes
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body dto.CancelClassRequest true "Cancellation"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scheduling/classes/{id}/cancel [post]
func (h *ClassHandler) Cancel(c *gin.Context) {
	var req dto.CancelClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrValidation.WithCause(err, "invalid cancel payload"))
		return
	}
	class, err := h.service.Cancel(c.Request.Context(), c.Param("id"), req.Reason, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}
