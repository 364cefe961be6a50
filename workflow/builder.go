package workflow

import (
	"github.com/google/uuid"

	"github.com/beruhq/beru/types"
)

// Builder assembles a workflow and validates it on Build. Validation
// failures are construction errors: they reject the workflow before any
// execution and are the only fatal error kind in the engine.
type Builder struct {
	name   string
	mode   types.ExecutionMode
	tasks  []types.Task
	lastID string
}

// NewBuilder creates a builder for a workflow with the given name. The
// default mode is mixed: scheduling driven purely by declared dependencies.
func NewBuilder(name string) *Builder {
	return &Builder{
		name: name,
		mode: types.ModeMixed,
	}
}

// WithMode sets the execution mode.
func (b *Builder) WithMode(mode types.ExecutionMode) *Builder {
	b.mode = mode
	return b
}

// Task appends a single task. A missing id is generated.
func (b *Builder) Task(t types.Task) *Builder {
	b.add(t)
	return b
}

// Sequential appends tasks so that each one depends on the task added
// immediately before it, chaining from the builder's last task if any.
func (b *Builder) Sequential(tasks ...types.Task) *Builder {
	for _, t := range tasks {
		if b.lastID != "" {
			t.Dependencies = append(t.Dependencies, b.lastID)
		}
		b.add(t)
	}
	return b
}

// Parallel appends tasks without introducing dependencies between them.
func (b *Builder) Parallel(tasks ...types.Task) *Builder {
	for _, t := range tasks {
		b.add(t)
	}
	return b
}

func (b *Builder) add(t types.Task) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	b.tasks = append(b.tasks, t)
	b.lastID = t.ID
}

// Build validates the assembled workflow and returns it. Sequential mode
// additionally chains every task to its predecessor in declaration order.
func (b *Builder) Build() (*Workflow, error) {
	if !b.mode.Valid() {
		return nil, types.Errorf(types.KindConstruction, "unknown execution mode %q", b.mode)
	}

	tasks := make([]types.Task, len(b.tasks))
	copy(tasks, b.tasks)

	if b.mode == types.ModeSequential {
		for i := 1; i < len(tasks); i++ {
			tasks[i].Dependencies = appendUnique(tasks[i].Dependencies, tasks[i-1].ID)
		}
	}

	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			return nil, types.Errorf(types.KindConstruction, "task %q has no id", t.Name)
		}
		if t.AgentName == "" {
			return nil, types.Errorf(types.KindConstruction, "task %q has no agent name", t.Name)
		}
		if _, dup := index[t.ID]; dup {
			return nil, types.Errorf(types.KindConstruction, "duplicate task id %q", t.ID)
		}
		index[t.ID] = i
	}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return nil, types.Errorf(types.KindConstruction, "task %q depends on itself", t.ID)
			}
			if _, ok := index[dep]; !ok {
				return nil, types.Errorf(types.KindConstruction, "task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}

	if cycle := findCycle(tasks, index); len(cycle) > 0 {
		return nil, types.Errorf(types.KindConstruction, "dependency cycle involving tasks %v", cycle)
	}

	return &Workflow{
		id:    uuid.NewString(),
		name:  b.name,
		mode:  b.mode,
		tasks: tasks,
		index: index,
	}, nil
}

// findCycle runs Kahn's algorithm and returns the ids left unresolved when
// a cycle exists, empty otherwise.
func findCycle(tasks []types.Task, index map[string]int) []string {
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		indegree[t.ID] += 0
		for _, dep := range t.Dependencies {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	resolved := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		resolved++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if resolved == len(tasks) {
		return nil
	}
	var cycle []string
	for _, t := range tasks {
		if indegree[t.ID] > 0 {
			cycle = append(cycle, t.ID)
		}
	}
	return cycle
}

func appendUnique(deps []string, id string) []string {
	for _, d := range deps {
		if d == id {
			return deps
		}
	}
	return append(deps, id)
}
