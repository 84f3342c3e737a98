package domain

import "time"

// Notification kinds produced by the board.
const (
	NotificationTaskAssigned = "task-assigned"
	NotificationTaskMoved    = "task-moved"
	NotificationTaskUpdated  = "task-updated"
	NotificationInfo         = "info"
	NotificationTest         = "test"
)

// Notification is a durable record of a task-related event relevant to the
// viewer. Immutable after creation except for the Read flag.
type Notification struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}
