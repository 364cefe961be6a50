package types

import "time"

// TaskStatus describes where a task is in its lifecycle.
//
// The legal transitions are:
//
//	Pending → Ready → Running → {Succeeded, Failed, TimedOut, Cancelled}
//	Pending/Ready   → {Skipped, Cancelled}
//
// Terminal states never transition further.
type TaskStatus string

const (
	// TaskPending means at least one dependency has not succeeded yet.
	TaskPending TaskStatus = "pending"
	// TaskReady means all dependencies succeeded and the task awaits dispatch.
	TaskReady TaskStatus = "ready"
	// TaskRunning means the task is executing. At most one execution per
	// task id is ever in flight.
	TaskRunning TaskStatus = "running"
	// TaskSucceeded is the terminal success state.
	TaskSucceeded TaskStatus = "succeeded"
	// TaskFailed means the executor reported a failure.
	TaskFailed TaskStatus = "failed"
	// TaskTimedOut means the task's timeout elapsed before completion.
	TaskTimedOut TaskStatus = "timed_out"
	// TaskCancelled means the owning workflow was cancelled.
	TaskCancelled TaskStatus = "cancelled"
	// TaskSkipped means an ancestor did not succeed; the task was never
	// dispatched.
	TaskSkipped TaskStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskTimedOut, TaskCancelled, TaskSkipped:
		return true
	}
	return false
}

// Task is an immutable unit of work bound to one executor. Identity fields
// never change after construction; lifecycle state is owned by the task
// graph, not by the task itself.
type Task struct {
	// ID uniquely identifies the task within its workflow.
	ID string
	// Name is a human-readable label.
	Name string
	// Input is the opaque text payload handed to the executor.
	Input string
	// AgentName names the registered executor that runs this task.
	AgentName string
	// Dependencies lists task ids that must succeed before this task is
	// dispatched.
	Dependencies []string
	// Timeout bounds a single execution. Zero means no per-task timeout.
	Timeout time.Duration
}

// ExecutionResult is the write-once outcome of a single task execution.
type ExecutionResult struct {
	TaskID    string        `json:"task_id"`
	TaskName  string        `json:"task_name"`
	AgentName string        `json:"agent_name"`
	Status    TaskStatus    `json:"status"`
	Output    string        `json:"output,omitempty"`
	Err       *Error        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration"`
}
