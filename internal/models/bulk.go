package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BulkOperationType tags the BulkOperation variant.
type BulkOperationType string

const (
	BulkBatchSchedule          BulkOperationType = "batch_schedule"
	BulkBatchReassign          BulkOperationType = "batch_reassign"
	BulkApproveRecommendations BulkOperationType = "approve_recommendations"
)

// Reassignment moves one class to another teacher and/or slot.
type Reassignment struct {
	ClassID   string `json:"class_id"`
	TeacherID string `json:"teacher_id,omitempty"`
	SlotID    string `json:"slot_id,omitempty"`
	Reason    string `json:"reason"`
}

// BulkOperation is a tagged union. Exactly the payload matching Type is populated.
type BulkOperation struct {
	Type              BulkOperationType   `json:"type"`
	Requests          []SchedulingRequest `json:"requests,omitempty"`
	Reassignments     []Reassignment      `json:"reassignments,omitempty"`
	RecommendationIDs []string            `json:"recommendation_ids,omitempty"`
	Reason            string              `json:"reason,omitempty"`
	RequestedBy       string              `json:"requested_by,omitempty"`
}

// NewBatchSchedule builds a validated batch_schedule operation.
func NewBatchSchedule(requests []SchedulingRequest) (BulkOperation, error) {
	op := BulkOperation{Type: BulkBatchSchedule, Requests: requests}
	return op, op.Validate()
}

// NewBatchReassign builds a validated batch_reassign operation.
func NewBatchReassign(reassignments []Reassignment) (BulkOperation, error) {
	op := BulkOperation{Type: BulkBatchReassign, Reassignments: reassignments}
	return op, op.Validate()
}

// NewApproveRecommendations builds a validated approve_recommendations operation.
func NewApproveRecommendations(ids []string, reason string) (BulkOperation, error) {
	op := BulkOperation{Type: BulkApproveRecommendations, RecommendationIDs: ids, Reason: reason}
	return op, op.Validate()
}

// Size returns the number of sub-operations.
func (o BulkOperation) Size() int {
	switch o.Type {
	case BulkBatchSchedule:
		return len(o.Requests)
	case BulkBatchReassign:
		return len(o.Reassignments)
	case BulkApproveRecommendations:
		return len(o.RecommendationIDs)
	}
	return 0
}

// Validate checks that the variant tag matches the populated payload.
func (o BulkOperation) Validate() error {
	switch o.Type {
	case BulkBatchSchedule:
		if len(o.Reassignments) > 0 || len(o.RecommendationIDs) > 0 {
			return errors.New("batch_schedule accepts only requests")
		}
		for i, req := range o.Requests {
			if strings.TrimSpace(req.CourseType) == "" {
				return fmt.Errorf("requests[%d]: course_type is required", i)
			}
		}
	case BulkBatchReassign:
		if len(o.Requests) > 0 || len(o.RecommendationIDs) > 0 {
			return errors.New("batch_reassign accepts only reassignments")
		}
		for i, r := range o.Reassignments {
			if r.ClassID == "" {
				return fmt.Errorf("reassignments[%d]: class_id is required", i)
			}
			if r.TeacherID == "" && r.SlotID == "" {
				return fmt.Errorf("reassignments[%d]: teacher_id or slot_id is required", i)
			}
			if strings.TrimSpace(r.Reason) == "" {
				return fmt.Errorf("reassignments[%d]: reason is required", i)
			}
		}
	case BulkApproveRecommendations:
		if len(o.Requests) > 0 || len(o.Reassignments) > 0 {
			return errors.New("approve_recommendations accepts only recommendation_ids")
		}
		for i, id := range o.RecommendationIDs {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("recommendation_ids[%d]: id is required", i)
			}
		}
	default:
		return fmt.Errorf("unknown bulk operation type %q", o.Type)
	}
	if o.Size() == 0 {
		return errors.New("bulk operation has no items")
	}
	return nil
}

// BulkItemError records the failure of one sub-operation.
type BulkItemError struct {
	Index   int    `json:"index"`
	Key     string `json:"key"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BulkOperationResult aggregates the outcome of a bulk operation.
type BulkOperationResult struct {
	ID         string               `json:"id"`
	Type       BulkOperationType    `json:"type"`
	Total      int                  `json:"total"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	Errors     []BulkItemError      `json:"errors"`
	RunIDs     []string             `json:"run_ids,omitempty"`
	Metrics    []PerformanceMetrics `json:"metrics,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}
