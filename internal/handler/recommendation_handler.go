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

type recommendationService interface {
	List(ctx context.Context, filter models.RecommendationFilter) ([]models.SchedulingRecommendation, error)
	Get(ctx context.Context, id string) (*models.SchedulingRecommendation, error)
	Resolve(ctx context.Context, id string, decision models.ResolveDecision, reason, actor string) (*models.SchedulingRecommendation, error)
}

// RecommendationHandler exposes recommendation review endpoints.
type RecommendationHandler struct {
	service recommendationService
}

// NewRecommendationHandler constructs the handler.
func NewRecommendationHandler(svc recommendationService) *RecommendationHandler {
	return &RecommendationHandler{service: svc}
}

// List godoc
// @Summary List scheduling recommendations
// @Tags Recommendations
// @Produce json
// @Param status query string false "pending, approved, rejected or deferred"
// @Param type query string false "Recommendation type"
// @Param run_id query string false "Run ID"
// @Success 200 {object} response.Envelope
// @Router /scheduling/recommendations [get]
func (h *RecommendationHandler) List(c *gin.Context) {
	var query dto.RecommendationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.ErrValidation.WithCause(err, "invalid recommendation filter"))
		return
	}
	recs, err := h.service.List(c.Request.Context(), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	if recs == nil {
		recs = []models.SchedulingRecommendation{}
	}
	response.JSON(c, http.StatusOK, recs, nil, map[string]interface{}{"total": len(recs)})
}

// Get godoc
// @Summary Get a recommendation
// @Tags Recommendations
// @Produce json
// @Param id path string true "Recommendation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scheduling/recommendations/{id} [get]
func (h *RecommendationHandler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Resolve godoc
// @Summary Approve, reject or defer a recommendation
// @Tags Recommendations
// @Accept json
// @Produce json
// @Param id path string true "Recommendation ID"
// @Param payload body dto.ResolveRecommendationRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scheduling/recommendations/{id}/resolve [post]
func (h *RecommendationHandler) Resolve(c *gin.Context) {
	var req dto.ResolveRecommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrValidation.WithCause(err, "invalid resolve payload"))
		return
	}
	rec, err := h.service.Resolve(c.Request.Context(), c.Param("id"), req.Decision, req.Reason, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}
