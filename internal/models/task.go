// Package models defines the shared records of the tutoring backend.
package models

import "time"

// TaskStatus is the lifecycle state of an indexing task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskRunning    TaskStatus = "running"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelling TaskStatus = "cancelling"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Cancellable reports whether a cancel request is accepted in this state.
func (s TaskStatus) Cancellable() bool {
	return s == TaskQueued || s == TaskRunning
}

// ContentKind tells the extractor how submitted content is encoded.
type ContentKind string

const (
	ContentText   ContentKind = "text"
	ContentBinary ContentKind = "binary"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	return k == ContentText || k == ContentBinary
}

// TaskSnapshot is a point-in-time copy of an indexing task.
type TaskSnapshot struct {
	ID          string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	Message     string     `json:"message"`
	Progress    int        `json:"progress"`
	DBName      string     `json:"db_name"`
	Filename    string     `json:"filename,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
