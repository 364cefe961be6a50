package workflow

import (
	"time"

	"github.com/beruhq/beru/types"
)

// Workflow is an immutable, validated set of tasks plus an execution mode.
// Instances are produced by Builder.Build or Definition.Workflow and are
// safe to submit from any goroutine.
type Workflow struct {
	id    string
	name  string
	mode  types.ExecutionMode
	tasks []types.Task
	index map[string]int
}

// ID returns the workflow id.
func (w *Workflow) ID() string { return w.id }

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// Mode returns the execution mode.
func (w *Workflow) Mode() types.ExecutionMode { return w.mode }

// Len returns the number of tasks.
func (w *Workflow) Len() int { return len(w.tasks) }

// Tasks returns the tasks in declaration order.
func (w *Workflow) Tasks() []types.Task {
	out := make([]types.Task, len(w.tasks))
	copy(out, w.tasks)
	return out
}

// Task looks up a task by id.
func (w *Workflow) Task(id string) (types.Task, bool) {
	i, ok := w.index[id]
	if !ok {
		return types.Task{}, false
	}
	return w.tasks[i], true
}

// TaskOption configures a task created with NewTask.
type TaskOption func(*types.Task)

// WithID overrides the generated task id.
func WithID(id string) TaskOption {
	return func(t *types.Task) { t.ID = id }
}

// WithTimeout bounds a single execution of the task.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *types.Task) { t.Timeout = d }
}

// DependsOn declares predecessor task ids that must succeed first.
func DependsOn(ids ...string) TaskOption {
	return func(t *types.Task) { t.Dependencies = append(t.Dependencies, ids...) }
}

// NewTask creates a task bound to the named agent. The id is generated
// unless overridden with WithID.
func NewTask(name, agentName, input string, opts ...TaskOption) types.Task {
	t := types.Task{
		Name:      name,
		AgentName: agentName,
		Input:     input,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}
