package models

import "time"

// RecommendationType names an advisory change.
type RecommendationType string

const (
	RecommendationAlternativeTime    RecommendationType = "alternative_time"
	RecommendationAlternativeTeacher RecommendationType = "alternative_teacher"
	RecommendationRegroup            RecommendationType = "regroup"
	RecommendationImproveAssignment  RecommendationType = "improve_assignment"
)

// Complexity grades how hard a recommendation is to carry out.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// RecommendationStatus tracks operator review.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "pending"
	RecommendationApproved RecommendationStatus = "approved"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationDeferred RecommendationStatus = "deferred"
)

// ResolveDecision is the operator's verdict on a recommendation.
type ResolveDecision string

const (
	DecisionApprove ResolveDecision = "approve"
	DecisionReject  ResolveDecision = "reject"
	DecisionDefer   ResolveDecision = "defer"
)

// ReasoningFactor is one named input to a recommendation's confidence.
type ReasoningFactor struct {
	Name         string  `json:"name"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail,omitempty"`
}

// RiskFactor is one risk attached to a recommendation.
type RiskFactor struct {
	Name       string   `json:"name"`
	Severity   Severity `json:"severity"`
	Mitigation string   `json:"mitigation,omitempty"`
}

// RiskAssessment aggregates the risk factors.
type RiskAssessment struct {
	OverallRisk Severity     `json:"overall_risk"`
	Factors     []RiskFactor `json:"factors"`
}

// RecommendationParams is the single parameter set needed to apply a recommendation or resolution.
type RecommendationParams struct {
	ClassID    string   `json:"class_id,omitempty"`
	CourseType string   `json:"course_type,omitempty"`
	ContentID  string   `json:"content_id,omitempty"`
	Difficulty int      `json:"difficulty,omitempty"`
	TeacherID  string   `json:"teacher_id,omitempty"`
	SlotID     string   `json:"slot_id,omitempty"`
	StudentIDs []string `json:"student_ids,omitempty"`
}

// SchedulingRecommendation is advisory output that needs explicit approval.
type SchedulingRecommendation struct {
	ID               string               `json:"id"`
	RunID            string               `json:"run_id"`
	Type             RecommendationType   `json:"type"`
	Description      string               `json:"description"`
	ConfidenceScore  float64              `json:"confidence_score"`
	Benefits         []string             `json:"benefits"`
	Drawbacks        []string             `json:"drawbacks"`
	Complexity       Complexity           `json:"complexity"`
	Params           RecommendationParams `json:"params"`
	Priority         Urgency              `json:"priority"`
	Status           RecommendationStatus `json:"status"`
	Reasoning        []ReasoningFactor    `json:"reasoning"`
	Risk             RiskAssessment       `json:"risk"`
	Plan             []string             `json:"plan"`
	ResolutionReason string               `json:"resolution_reason,omitempty"`
	ResolvedBy       string               `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time           `json:"resolved_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

// RecommendationFilter narrows recommendation listings.
type RecommendationFilter struct {
	Status *RecommendationStatus
	RunID  string
	Type   *RecommendationType
}
