package types

// WorkflowStatus describes the lifecycle of a workflow run.
type WorkflowStatus string

const (
	// WorkflowCreated means the workflow was accepted but not started.
	WorkflowCreated WorkflowStatus = "created"
	// WorkflowRunning means at least one task may still be dispatched.
	WorkflowRunning WorkflowStatus = "running"
	// WorkflowCompleted means every task is terminal and none failed.
	// Skipped tasks are compatible with completion.
	WorkflowCompleted WorkflowStatus = "completed"
	// WorkflowFailed means a task failure made the workflow unrecoverable
	// under its execution mode.
	WorkflowFailed WorkflowStatus = "failed"
	// WorkflowCancelled means the workflow was explicitly cancelled.
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether the status is final. A workflow in a terminal
// status is immutable.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// ExecutionMode controls how a workflow's tasks are ordered.
type ExecutionMode string

const (
	// ModeSequential runs tasks strictly in declaration order; each task
	// implicitly depends on its predecessor.
	ModeSequential ExecutionMode = "sequential"
	// ModeParallel runs tasks concurrently subject to declared
	// dependencies; independent-task failures do not fail the workflow.
	ModeParallel ExecutionMode = "parallel"
	// ModeMixed is driven purely by the dependency graph. A task failure
	// fails the workflow, but unrelated branches still run to completion.
	ModeMixed ExecutionMode = "mixed"
)

// Valid reports whether the mode is one of the supported values.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeMixed:
		return true
	}
	return false
}
