package contracts

import (
	"encoding/json"
	"time"
)

// TaskState is the lifecycle state reported by the server for an
// asynchronous task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskUnknown   TaskState = "unknown"
)

// Terminal reports whether the state ends the task's lifecycle.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskHandle is an opaque reference to server-side asynchronous work,
// returned by calls that start a task. The client tracks nothing about the
// task beyond this handle; polling with it is idempotent and restartable.
type TaskHandle struct {
	TaskID      string    `json:"taskId"`
	OwnerID     string    `json:"ownerId,omitempty"` // swarm or agent that owns the task
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
}

// TaskStatus is the decoded result of one status poll.
type TaskStatus struct {
	State  TaskState       `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// TaskResult is returned by the task poller when a task completes.
// Attempts and Elapsed expose poll progress for observability.
type TaskResult struct {
	Handle   TaskHandle
	Value    json.RawMessage
	Attempts int
	Elapsed  time.Duration
}
