package models

import "time"

// ClassEventType describes what happened to a class.
type ClassEventType string

const (
	ClassEventCreated   ClassEventType = "created"
	ClassEventChanged   ClassEventType = "changed"
	ClassEventCancelled ClassEventType = "cancelled"
)

// ClassEvent is the fire-and-forget notification payload.
type ClassEvent struct {
	ID         string         `json:"id"`
	Type       ClassEventType `json:"type"`
	Class      ScheduledClass `json:"class"`
	Reason     string         `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
