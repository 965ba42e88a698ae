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

type bulkOperationService interface {
	Execute(ctx context.Context, op models.BulkOperation, actor string) (*models.BulkOperationResult, error)
}

// BulkHandler executes bulk scheduling operations.
type BulkHandler struct {
	service bulkOperationService
}

// NewBulkHandler constructs the handler.
func NewBulkHandler(svc bulkOperationService) *BulkHandler {
	return &BulkHandler{service: svc}
}

// Execute godoc
// @Summary Execute a bulk operation
// @Description Runs every item and reports per-item failures. Failed items never roll back successful ones.
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param payload body dto.BulkOperationRequest true "Bulk operation"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /scheduling/bulk [post]
func (h *BulkHandler) Execute(c *gin.Context) {
	var req dto.BulkOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrValidation.WithCause(err, "invalid bulk payload"))
		return
	}
	actor := actorFromContext(c)
	result, err := h.service.Execute(c.Request.Context(), req.Operation(actor), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
