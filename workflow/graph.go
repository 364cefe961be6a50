package workflow

import (
	"sync"

	"github.com/beruhq/beru/types"
)

// taskGraph tracks runtime task state for one workflow run. It is the only
// mutable shared state between the engine loop and completion handling, and
// every mutation goes through its single mutex: no task is ever completed
// twice, and terminal states never transition further.
type taskGraph struct {
	mu         sync.Mutex
	tasks      []types.Task
	index      map[string]int
	status     map[string]types.TaskStatus
	results    map[string]types.ExecutionResult
	dependents map[string][]string
}

func newTaskGraph(wf *Workflow) *taskGraph {
	g := &taskGraph{
		tasks:      wf.Tasks(),
		index:      make(map[string]int, wf.Len()),
		status:     make(map[string]types.TaskStatus, wf.Len()),
		results:    make(map[string]types.ExecutionResult, wf.Len()),
		dependents: make(map[string][]string, wf.Len()),
	}
	for i, t := range g.tasks {
		g.index[t.ID] = i
		g.status[t.ID] = types.TaskPending
		for _, dep := range t.Dependencies {
			g.dependents[dep] = append(g.dependents[dep], t.ID)
		}
	}
	return g
}

// takeReady promotes every pending task whose dependencies have all
// succeeded to Ready and returns them in declaration order. Each task is
// returned exactly once.
func (g *taskGraph) takeReady() []types.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []types.Task
	for _, t := range g.tasks {
		if g.status[t.ID] != types.TaskPending {
			continue
		}
		satisfied := true
		for _, dep := range t.Dependencies {
			if g.status[dep] != types.TaskSucceeded {
				satisfied = false
				break
			}
		}
		if satisfied {
			g.status[t.ID] = types.TaskReady
			ready = append(ready, t)
		}
	}
	return ready
}

// markRunning transitions a task from Ready to Running. It returns false
// when the task is no longer Ready, e.g. cancelled between being queued and
// dispatched.
func (g *taskGraph) markRunning(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status[id] != types.TaskReady {
		return false
	}
	g.status[id] = types.TaskRunning
	return true
}

// complete records a task's terminal result. Completions for tasks that are
// already terminal are ignored, which makes terminal state idempotent. A
// non-success result skips every transitive dependent that has not been
// dispatched yet.
func (g *taskGraph) complete(res types.ExecutionResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, known := g.status[res.TaskID]
	if !known || current.Terminal() {
		return
	}

	g.status[res.TaskID] = res.Status
	g.results[res.TaskID] = res

	if res.Status != types.TaskSucceeded {
		g.skipDependentsLocked(res.TaskID)
	}
}

// skipDependentsLocked marks every transitive dependent of id that has not
// started running as Skipped. Running and terminal dependents are left
// untouched.
func (g *taskGraph) skipDependentsLocked(id string) {
	queue := append([]string(nil), g.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		switch g.status[next] {
		case types.TaskPending, types.TaskReady:
			g.status[next] = types.TaskSkipped
			t := g.tasks[g.index[next]]
			g.results[next] = types.ExecutionResult{
				TaskID:    t.ID,
				TaskName:  t.Name,
				AgentName: t.AgentName,
				Status:    types.TaskSkipped,
			}
			queue = append(queue, g.dependents[next]...)
		}
	}
}

// cancelRemaining marks every task that has not been dispatched as
// Cancelled. In-flight tasks are left to finish through complete; terminal
// tasks are untouched.
func (g *taskGraph) cancelRemaining() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, t := range g.tasks {
		switch g.status[t.ID] {
		case types.TaskPending, types.TaskReady:
			g.status[t.ID] = types.TaskCancelled
			g.results[t.ID] = types.ExecutionResult{
				TaskID:    t.ID,
				TaskName:  t.Name,
				AgentName: t.AgentName,
				Status:    types.TaskCancelled,
				Err:       types.NewError(types.KindCancelled, "workflow cancelled before dispatch"),
			}
		}
	}
}

// skipRemaining marks every non-terminal, non-running task as Skipped.
// Used as a terminal sweep so no task can remain Pending forever.
func (g *taskGraph) skipRemaining() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, t := range g.tasks {
		switch g.status[t.ID] {
		case types.TaskPending, types.TaskReady:
			g.status[t.ID] = types.TaskSkipped
			g.results[t.ID] = types.ExecutionResult{
				TaskID:    t.ID,
				TaskName:  t.Name,
				AgentName: t.AgentName,
				Status:    types.TaskSkipped,
			}
		}
	}
}

// allTerminal reports whether every task reached a terminal state.
func (g *taskGraph) allTerminal() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.tasks {
		if !g.status[t.ID].Terminal() {
			return false
		}
	}
	return true
}

// taskStatus returns the current status of a task.
func (g *taskGraph) taskStatus(id string) types.TaskStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status[id]
}

// snapshot returns per-task results in declaration order.
func (g *taskGraph) snapshot() []types.ExecutionResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]types.ExecutionResult, 0, len(g.tasks))
	for _, t := range g.tasks {
		if res, ok := g.results[t.ID]; ok {
			out = append(out, res)
			continue
		}
		out = append(out, types.ExecutionResult{
			TaskID:    t.ID,
			TaskName:  t.Name,
			AgentName: t.AgentName,
			Status:    g.status[t.ID],
		})
	}
	return out
}
