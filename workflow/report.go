package workflow

import (
	"time"

	"github.com/beruhq/beru/types"
)

// Report is the aggregated outcome of a workflow run. Per-task results are
// listed in declaration order regardless of completion order so identical
// inputs produce identical reports. Skip counts are reported distinctly from
// success counts.
type Report struct {
	WorkflowID   string                  `json:"workflow_id"`
	WorkflowName string                  `json:"workflow_name"`
	Mode         types.ExecutionMode     `json:"mode"`
	Status       types.WorkflowStatus    `json:"status"`
	StartedAt    time.Time               `json:"started_at"`
	CompletedAt  time.Time               `json:"completed_at"`
	Duration     time.Duration           `json:"total_duration"`
	Results      []types.ExecutionResult `json:"results"`

	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
}

// Result looks up a task's result by id.
func (r *Report) Result(taskID string) (types.ExecutionResult, bool) {
	for _, res := range r.Results {
		if res.TaskID == taskID {
			return res, true
		}
	}
	return types.ExecutionResult{}, false
}

// FailedResults returns the results of failed and timed-out tasks, in
// declaration order.
func (r *Report) FailedResults() []types.ExecutionResult {
	var out []types.ExecutionResult
	for _, res := range r.Results {
		if res.Status == types.TaskFailed || res.Status == types.TaskTimedOut {
			out = append(out, res)
		}
	}
	return out
}

// buildReport aggregates the graph snapshot into a final report and derives
// the workflow status under the mode's failure policy.
func buildReport(wf *Workflow, results []types.ExecutionResult, cancelled bool, startedAt, completedAt time.Time) *Report {
	rep := &Report{
		WorkflowID:   wf.ID(),
		WorkflowName: wf.Name(),
		Mode:         wf.Mode(),
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		Duration:     completedAt.Sub(startedAt),
		Results:      results,
	}

	for _, res := range results {
		switch res.Status {
		case types.TaskSucceeded:
			rep.Succeeded++
		case types.TaskFailed:
			rep.Failed++
		case types.TaskTimedOut:
			rep.TimedOut++
		case types.TaskCancelled:
			rep.Cancelled++
		case types.TaskSkipped:
			rep.Skipped++
		}
	}

	switch {
	case cancelled:
		rep.Status = types.WorkflowCancelled
	case wf.Mode() == types.ModeParallel:
		// Parallel mode tolerates independent-task failure; partial
		// failures are enumerated in the counts and results.
		rep.Status = types.WorkflowCompleted
	case rep.Failed > 0 || rep.TimedOut > 0:
		rep.Status = types.WorkflowFailed
	default:
		rep.Status = types.WorkflowCompleted
	}

	return rep
}
