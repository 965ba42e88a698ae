package dto

import (
	"github.com/noah-isme/class-scheduler-api/internal/models"
)

// CreateRunRequest submits an asynchronous scheduling run.
type CreateRunRequest struct {
	CourseType      string                        `json:"course_type" binding:"required"`
	StudentIDs      []string                      `json:"student_ids"`
	TimeRange       models.TimeRange              `json:"time_range"`
	Goals           []models.GoalWeight           `json:"goals"`
	Constraints     *models.SchedulingConstraints `json:"constraints"`
	IterationBudget int                           `json:"iteration_budget"`
}

// SchedulingRequest converts the payload, enabling every constraint unless given.
func (r CreateRunRequest) SchedulingRequest(actor string) models.SchedulingRequest {
	constraints := models.DefaultConstraints()
	if r.Constraints != nil {
		constraints = *r.Constraints
	}
	return models.SchedulingRequest{
		CourseType:      r.CourseType,
		TimeRange:       r.TimeRange,
		StudentIDs:      r.StudentIDs,
		Goals:           r.Goals,
		Constraints:     constraints,
		IterationBudget: r.IterationBudget,
		RequestedBy:     actor,
	}
}

// ApplyOverrideRequest pins a class.
type ApplyOverrideRequest struct {
	Type     models.OverrideType   `json:"type" binding:"required"`
	Reason   string                `json:"reason" binding:"required"`
	Priority models.Urgency        `json:"priority"`
	Params   models.OverrideParams `json:"params"`
}

// Override converts the payload into an override applied by actor.
func (r ApplyOverrideRequest) Override(actor string) models.SchedulingOverride {
	return models.SchedulingOverride{
		Type:      r.Type,
		Reason:    r.Reason,
		Priority:  r.Priority,
		Params:    r.Params,
		AppliedBy: actor,
	}
}

// ResolveRecommendationRequest records an operator decision.
type ResolveRecommendationRequest struct {
	Decision models.ResolveDecision `json:"decision" binding:"required,oneof=approve reject defer"`
	Reason   string                 `json:"reason"`
}

// CancelClassRequest cancels a class.
type CancelClassRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RecommendationQuery filters recommendation listings.
type RecommendationQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=pending approved rejected deferred"`
	Type   string `form:"type" binding:"omitempty,oneof=alternative_time alternative_teacher regroup improve_assignment"`
	RunID  string `form:"run_id"`
}

// Filter converts the query into a repository filter.
func (q RecommendationQuery) Filter() models.RecommendationFilter {
	filter := models.RecommendationFilter{RunID: q.RunID}
	if q.Status != "" {
		status := models.RecommendationStatus(q.Status)
		filter.Status = &status
	}
	if q.Type != "" {
		kind := models.RecommendationType(q.Type)
		filter.Type = &kind
	}
	return filter
}

// ClassOverridesResponse is the override history of a class with the effective set.
type ClassOverridesResponse struct {
	ClassID   string                                             `json:"class_id"`
	History   []models.SchedulingOverride                        `json:"history"`
	Effective map[models.OverrideType]models.SchedulingOverride `json:"effective"`
}

// BulkOperationRequest is the wire form of a bulk operation. Batch requests use the same
// defaults as single runs.
type BulkOperationRequest struct {
	Type              models.BulkOperationType `json:"type" binding:"required,oneof=batch_schedule batch_reassign approve_recommendations"`
	Requests          []CreateRunRequest       `json:"requests"`
	Reassignments     []models.Reassignment    `json:"reassignments"`
	RecommendationIDs []string                 `json:"recommendation_ids"`
	Reason            string                   `json:"reason"`
}

// Operation converts the payload into a bulk operation requested by actor.
func (r BulkOperationRequest) Operation(actor string) models.BulkOperation {
	op := models.BulkOperation{
		Type:              r.Type,
		Reassignments:     r.Reassignments,
		RecommendationIDs: r.RecommendationIDs,
		Reason:            r.Reason,
		RequestedBy:       actor,
	}
	for _, req := range r.Requests {
		op.Requests = append(op.Requests, req.SchedulingRequest(actor))
	}
	return op
}
