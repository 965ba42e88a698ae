package models

import "time"

// RunTrigger records what started a run.
type RunTrigger string

const (
	TriggerManual    RunTrigger = "manual"
	TriggerAutomatic RunTrigger = "automatic"
	TriggerBulk      RunTrigger = "bulk"
)

// RunStatus is the lifecycle state of a scheduling run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// SchedulingRun tracks one background scheduling job.
type SchedulingRun struct {
	ID         string            `json:"id"`
	Trigger    RunTrigger        `json:"trigger"`
	Status     RunStatus         `json:"status"`
	Progress   float64           `json:"progress"`
	Stage      string            `json:"stage"`
	Request    SchedulingRequest `json:"request"`
	Result     *SchedulingResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Attempts   int               `json:"attempts"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// RunProgress is a progress notification emitted while a run executes.
type RunProgress struct {
	RunID    string    `json:"run_id"`
	Status   RunStatus `json:"status"`
	Progress float64   `json:"progress"`
	Stage    string    `json:"stage"`
	At       time.Time `json:"at"`
}
