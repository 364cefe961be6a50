package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beruhq/beru/types"
)

// fakeDispatcher runs tasks through per-task behaviors and records the order
// in which dispatches started.
type fakeDispatcher struct {
	mu         sync.Mutex
	behaviors  map[string]func(ctx context.Context) (types.TaskStatus, *types.Error)
	dispatched []string
	timeouts   map[string]time.Duration
	unknown    map[string]bool
	delay      time.Duration
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		behaviors: make(map[string]func(ctx context.Context) (types.TaskStatus, *types.Error)),
		timeouts:  make(map[string]time.Duration),
		unknown:   make(map[string]bool),
	}
}

func (f *fakeDispatcher) fail(taskID string) {
	f.behaviors[taskID] = func(context.Context) (types.TaskStatus, *types.Error) {
		return types.TaskFailed, types.NewError(types.KindExecution, "boom")
	}
}

func (f *fakeDispatcher) block(taskID string) {
	f.behaviors[taskID] = func(ctx context.Context) (types.TaskStatus, *types.Error) {
		<-ctx.Done()
		return types.TaskCancelled, types.NewError(types.KindCancelled, "task cancelled")
	}
}

func (f *fakeDispatcher) Registered(name string) bool {
	return !f.unknown[name]
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, task types.Task) types.ExecutionResult {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, task.ID)
	f.timeouts[task.ID] = task.Timeout
	behavior := f.behaviors[task.ID]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	res := types.ExecutionResult{
		TaskID:    task.ID,
		TaskName:  task.Name,
		AgentName: task.AgentName,
		StartedAt: time.Now(),
	}
	if behavior != nil {
		res.Status, res.Err = behavior(ctx)
		return res
	}
	res.Status = types.TaskSucceeded
	res.Output = "ok"
	return res
}

func (f *fakeDispatcher) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dispatched...)
}

func buildWorkflow(t *testing.T, mode types.ExecutionMode, tasks ...types.Task) *Workflow {
	t.Helper()
	b := NewBuilder("engine-test").WithMode(mode)
	for _, task := range tasks {
		b.Task(task)
	}
	wf, err := b.Build()
	require.NoError(t, err)
	return wf
}

func TestEngine_AllTasksSucceed(t *testing.T) {
	d := newFakeDispatcher()
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeMixed,
		NewTask("a", "agent", "", WithID("a")),
		NewTask("b", "agent", "", WithID("b"), DependsOn("a")),
		NewTask("c", "agent", "", WithID("c"), DependsOn("a")),
	)

	report, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowCompleted, report.Status)
	assert.Equal(t, 3, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Skipped)

	// a must start before its dependents.
	order := d.order()
	require.Len(t, order, 3)
	assert.Equal(t, "a", order[0])
}

func TestEngine_ResultsInDeclarationOrder(t *testing.T) {
	d := newFakeDispatcher()
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeParallel,
		NewTask("first", "agent", "", WithID("first")),
		NewTask("second", "agent", "", WithID("second")),
		NewTask("third", "agent", "", WithID("third")),
	)

	report, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, "first", report.Results[0].TaskID)
	assert.Equal(t, "second", report.Results[1].TaskID)
	assert.Equal(t, "third", report.Results[2].TaskID)
}

func TestEngine_DispatchOrderIsDeclarationOrder(t *testing.T) {
	d := newFakeDispatcher()
	// Fan-out of one serializes dispatch so the tie-break is observable.
	e := NewEngine(d, WithMaxParallel(1))

	wf := buildWorkflow(t, types.ModeMixed,
		NewTask("x", "agent", "", WithID("x")),
		NewTask("y", "agent", "", WithID("y")),
		NewTask("z", "agent", "", WithID("z")),
	)

	_, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "z"}, d.order())
}

func TestEngine_FailureSkipsDependents(t *testing.T) {
	d := newFakeDispatcher()
	d.fail("a")
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeMixed,
		NewTask("a", "agent", "", WithID("a")),
		NewTask("b", "agent", "", WithID("b"), DependsOn("a")),
		NewTask("c", "agent", "", WithID("c"), DependsOn("b")),
		NewTask("d", "agent", "", WithID("d")),
	)

	report, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowFailed, report.Status)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Succeeded)

	// Skipped tasks were never handed to the dispatcher.
	for _, id := range d.order() {
		assert.NotContains(t, []string{"b", "c"}, id)
	}

	b, ok := report.Result("b")
	require.True(t, ok)
	assert.Equal(t, types.TaskSkipped, b.Status)
	assert.Nil(t, b.Err)
}

func TestEngine_ParallelModeToleratesFailure(t *testing.T) {
	d := newFakeDispatcher()
	d.fail("a")
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeParallel,
		NewTask("a", "agent", "", WithID("a")),
		NewTask("b", "agent", "", WithID("b")),
	)

	report, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	// Independent-task failure does not fail a parallel workflow; the
	// failure stays visible in the counts and results.
	assert.Equal(t, types.WorkflowCompleted, report.Status)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.FailedResults(), 1)
	assert.Equal(t, "a", report.FailedResults()[0].TaskID)
}

func TestEngine_SequentialModeStopsAfterFailure(t *testing.T) {
	d := newFakeDispatcher()
	d.fail("b")
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeSequential,
		NewTask("a", "agent", "", WithID("a")),
		NewTask("b", "agent", "", WithID("b")),
		NewTask("c", "agent", "", WithID("c")),
	)

	report, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowFailed, report.Status)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.NotContains(t, d.order(), "c")
}

func TestEngine_MixedModeUnrelatedBranchesStillRun(t *testing.T) {
	d := newFakeDispatcher()
	d.fail("left")
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeMixed,
		NewTask("left", "agent", "", WithID("left")),
		NewTask("left-child", "agent", "", WithID("left-child"), DependsOn("left")),
		NewTask("right", "agent", "", WithID("right")),
		NewTask("right-child", "agent", "", WithID("right-child"), DependsOn("right")),
	)

	report, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	// The failure fails the workflow but the right branch completes.
	assert.Equal(t, types.WorkflowFailed, report.Status)
	rc, ok := report.Result("right-child")
	require.True(t, ok)
	assert.Equal(t, types.TaskSucceeded, rc.Status)
}

func TestEngine_Cancellation(t *testing.T) {
	d := newFakeDispatcher()
	d.block("a")
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeMixed,
		NewTask("a", "agent", "", WithID("a")),
		NewTask("b", "agent", "", WithID("b"), DependsOn("a")),
	)

	run, err := e.Submit(context.Background(), wf)
	require.NoError(t, err)

	// Let a start, then cancel the run.
	require.Eventually(t, func() bool {
		return run.TaskStatus("a") == types.TaskRunning
	}, 2*time.Second, time.Millisecond)

	run.Cancel()
	report := run.Wait()

	assert.Equal(t, types.WorkflowCancelled, report.Status)
	assert.Equal(t, 2, report.Cancelled)
	assert.NotContains(t, d.order(), "b")

	b, ok := report.Result("b")
	require.True(t, ok)
	require.NotNil(t, b.Err)
	assert.Equal(t, types.KindCancelled, b.Err.Kind)
}

func TestEngine_CancelAfterTerminalIsNoop(t *testing.T) {
	d := newFakeDispatcher()
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeMixed, NewTask("a", "agent", "", WithID("a")))

	run, err := e.Submit(context.Background(), wf)
	require.NoError(t, err)
	report := run.Wait()
	assert.Equal(t, types.WorkflowCompleted, report.Status)

	run.Cancel()
	run.Cancel()
	assert.Equal(t, types.WorkflowCompleted, run.Status())
}

func TestEngine_SubmitRejectsUnknownAgent(t *testing.T) {
	d := newFakeDispatcher()
	d.unknown["ghost"] = true
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeMixed, NewTask("a", "ghost", "", WithID("a")))

	run, err := e.Submit(context.Background(), wf)
	require.Error(t, err)
	assert.Nil(t, run)
	assert.True(t, types.IsConstructionError(err))
	assert.Empty(t, d.order(), "no task may run when submission fails")
}

func TestEngine_SubmitRejectsNilWorkflow(t *testing.T) {
	e := NewEngine(newFakeDispatcher())

	_, err := e.Submit(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, types.IsConstructionError(err))
}

func TestEngine_RunLookup(t *testing.T) {
	d := newFakeDispatcher()
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeMixed, NewTask("a", "agent", "", WithID("a")))

	run, err := e.Submit(context.Background(), wf)
	require.NoError(t, err)

	found, ok := e.Run(run.ID())
	require.True(t, ok)
	assert.Same(t, run, found)

	_, ok = e.Run("no-such-run")
	assert.False(t, ok)

	run.Wait()
	report, ok := run.Report()
	require.True(t, ok)
	assert.Equal(t, types.WorkflowCompleted, report.Status)
}

func TestEngine_MaxParallelBoundsFanOut(t *testing.T) {
	d := newFakeDispatcher()
	d.delay = 20 * time.Millisecond
	e := NewEngine(d, WithMaxParallel(2))

	var tasks []types.Task
	ids := []string{"t1", "t2", "t3", "t4", "t5", "t6"}
	for _, id := range ids {
		tasks = append(tasks, NewTask(id, "agent", "", WithID(id)))
	}
	wf := buildWorkflow(t, types.ModeParallel, tasks...)

	start := time.Now()
	report, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, 6, report.Succeeded)
	// Six 20ms tasks two at a time need at least three rounds.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestEngine_DefaultTaskTimeoutApplied(t *testing.T) {
	d := newFakeDispatcher()
	e := NewEngine(d, WithDefaultTaskTimeout(42*time.Second))

	wf := buildWorkflow(t, types.ModeMixed,
		NewTask("plain", "agent", "", WithID("plain")),
		NewTask("bounded", "agent", "", WithID("bounded"), WithTimeout(time.Second)),
	)

	_, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	d.mu.Lock()
	defer d.mu.Unlock()
	// The default fills in only where no timeout was declared.
	assert.Equal(t, 42*time.Second, d.timeouts["plain"])
	assert.Equal(t, time.Second, d.timeouts["bounded"])
}

func TestEngine_NoDefaultLeavesTasksUnbounded(t *testing.T) {
	d := newFakeDispatcher()
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeMixed, NewTask("plain", "agent", "", WithID("plain")))

	_, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, time.Duration(0), d.timeouts["plain"])
}

func TestEngine_TimedOutTaskSkipsDependents(t *testing.T) {
	d := newFakeDispatcher()
	d.behaviors["slow"] = func(context.Context) (types.TaskStatus, *types.Error) {
		return types.TaskTimedOut, types.NewError(types.KindTimedOut, "task timed out after 10ms")
	}
	e := NewEngine(d)

	wf := buildWorkflow(t, types.ModeMixed,
		NewTask("slow", "agent", "", WithID("slow"), WithTimeout(10*time.Millisecond)),
		NewTask("after", "agent", "", WithID("after"), DependsOn("slow")),
	)

	report, err := e.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, types.WorkflowFailed, report.Status)
	assert.Equal(t, 1, report.TimedOut)
	assert.Equal(t, 1, report.Skipped)
}
