package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beruhq/beru/types"
)

// DefaultMaxParallel is the workflow-level fan-out applied when the engine
// is not configured with one. Per-agent caps are enforced separately by the
// dispatcher.
const DefaultMaxParallel = 5

// Dispatcher runs a single task and reports its outcome. The registry
// satisfies this interface; tests substitute fakes.
type Dispatcher interface {
	Dispatch(ctx context.Context, task types.Task) types.ExecutionResult
	Registered(name string) bool
}

// WorkflowRecorder receives workflow-level metrics. Implemented by the
// internal metrics collector.
type WorkflowRecorder interface {
	RecordWorkflowExecution(status types.WorkflowStatus, duration time.Duration)
}

// Engine executes workflows against a dispatcher. It is event-driven: the
// scheduling loop suspends between dispatches and resumes on completion
// notifications, never busy-polling.
type Engine struct {
	dispatcher         Dispatcher
	logger             *zap.Logger
	recorder           WorkflowRecorder
	maxParallel        int
	defaultTaskTimeout time.Duration

	mu   sync.RWMutex
	runs map[string]*Run
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the structured logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithMaxParallel sets the workflow-level fan-out. Values below one are
// ignored.
func WithMaxParallel(n int) EngineOption {
	return func(e *Engine) {
		if n >= 1 {
			e.maxParallel = n
		}
	}
}

// WithWorkflowRecorder sets the metrics recorder.
func WithWorkflowRecorder(rec WorkflowRecorder) EngineOption {
	return func(e *Engine) { e.recorder = rec }
}

// WithDefaultTaskTimeout bounds tasks that do not declare their own timeout.
// Zero leaves such tasks unbounded.
func WithDefaultTaskTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTaskTimeout = d
		}
	}
}

// NewEngine creates an engine that dispatches through the given dispatcher.
func NewEngine(dispatcher Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		dispatcher:  dispatcher,
		logger:      zap.NewNop(),
		maxParallel: DefaultMaxParallel,
		runs:        make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	return e
}

// Run is the handle to one workflow execution: the unit of cancellation and
// status reporting.
type Run struct {
	id       string
	workflow *Workflow
	graph    *taskGraph
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.RWMutex
	status types.WorkflowStatus
	report *Report
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// WorkflowID returns the id of the executed workflow.
func (r *Run) WorkflowID() string { return r.workflow.ID() }

// Status returns the current workflow status.
func (r *Run) Status() types.WorkflowStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// TaskStatus returns the current status of one task in the run.
func (r *Run) TaskStatus(taskID string) types.TaskStatus {
	return r.graph.taskStatus(taskID)
}

// Cancel requests cooperative cancellation of the run. In-flight tasks are
// signalled through their contexts; tasks not yet dispatched are marked
// cancelled without dispatch. Cancel is safe to call multiple times and has
// no effect once the run is terminal.
func (r *Run) Cancel() {
	r.cancel()
}

// Done returns a channel closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is terminal and returns the final report.
func (r *Run) Wait() *Report {
	<-r.done
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report
}

// Report returns the final report, or false while the run is in progress.
func (r *Run) Report() (*Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report, r.report != nil
}

func (r *Run) setRunning() {
	r.mu.Lock()
	r.status = types.WorkflowRunning
	r.mu.Unlock()
}

func (r *Run) finish(rep *Report) {
	r.mu.Lock()
	r.status = rep.Status
	r.report = rep
	r.mu.Unlock()
	close(r.done)
}

// Submit validates the workflow against the dispatcher and starts executing
// it. Every task's agent name must be registered; an unknown agent is a
// construction error, rejected before any task runs.
func (e *Engine) Submit(ctx context.Context, wf *Workflow) (*Run, error) {
	if wf == nil {
		return nil, types.NewError(types.KindConstruction, "workflow is nil")
	}
	for _, t := range wf.Tasks() {
		if !e.dispatcher.Registered(t.AgentName) {
			return nil, types.Errorf(types.KindConstruction,
				"task %q targets unregistered agent %q", t.Name, t.AgentName)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		id:       uuid.NewString(),
		workflow: wf,
		graph:    newTaskGraph(wf),
		cancel:   cancel,
		done:     make(chan struct{}),
		status:   types.WorkflowCreated,
	}

	e.mu.Lock()
	e.runs[run.id] = run
	e.mu.Unlock()

	e.logger.Info("workflow submitted",
		zap.String("run_id", run.id),
		zap.String("workflow", wf.Name()),
		zap.String("mode", string(wf.Mode())),
		zap.Int("tasks", wf.Len()),
	)

	go e.execute(runCtx, run)
	return run, nil
}

// Execute submits the workflow and blocks until it is terminal.
func (e *Engine) Execute(ctx context.Context, wf *Workflow) (*Report, error) {
	run, err := e.Submit(ctx, wf)
	if err != nil {
		return nil, err
	}
	return run.Wait(), nil
}

// Run looks up a run by id.
func (e *Engine) Run(id string) (*Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.runs[id]
	return run, ok
}

// execute is the scheduling loop of one run. Ready tasks are dispatched in
// declaration order, bounded by the workflow-level fan-out; each completion
// updates the graph and unblocks newly-ready tasks until every task is
// terminal or the run is cancelled.
func (e *Engine) execute(ctx context.Context, run *Run) {
	defer run.cancel()

	startedAt := time.Now()
	run.setRunning()

	completions := make(chan types.ExecutionResult)
	queue := run.graph.takeReady()
	ctxDone := ctx.Done()
	inflight := 0
	cancelled := false

	dispatch := func() {
		for !cancelled && inflight < e.maxParallel && len(queue) > 0 {
			t := queue[0]
			queue = queue[1:]
			if !run.graph.markRunning(t.ID) {
				continue
			}
			if t.Timeout <= 0 {
				t.Timeout = e.defaultTaskTimeout
			}
			inflight++
			go func(t types.Task) {
				completions <- e.dispatcher.Dispatch(ctx, t)
			}(t)
		}
	}
	dispatch()

	for inflight > 0 || (!cancelled && len(queue) > 0) {
		select {
		case res := <-completions:
			inflight--
			run.graph.complete(res)
			e.logger.Debug("task completed",
				zap.String("run_id", run.id),
				zap.String("task_id", res.TaskID),
				zap.String("status", string(res.Status)),
				zap.Duration("duration", res.Duration),
			)
			if !cancelled {
				queue = append(queue, run.graph.takeReady()...)
				dispatch()
			}

		case <-ctxDone:
			cancelled = true
			ctxDone = nil
			queue = nil
			run.graph.cancelRemaining()
			e.logger.Info("workflow cancellation requested",
				zap.String("run_id", run.id),
			)
		}
	}

	if cancelled {
		run.graph.cancelRemaining()
	} else {
		// Terminal sweep: the skip cascade should have resolved every
		// blocked task already, so this only guards the invariant that
		// no task stays pending forever.
		run.graph.skipRemaining()
	}

	completedAt := time.Now()
	report := buildReport(run.workflow, run.graph.snapshot(), cancelled, startedAt, completedAt)
	run.finish(report)

	if e.recorder != nil {
		e.recorder.RecordWorkflowExecution(report.Status, report.Duration)
	}
	e.logger.Info("workflow finished",
		zap.String("run_id", run.id),
		zap.String("workflow", run.workflow.Name()),
		zap.String("status", string(report.Status)),
		zap.Duration("duration", report.Duration),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("timed_out", report.TimedOut),
		zap.Int("cancelled", report.Cancelled),
		zap.Int("skipped", report.Skipped),
	)
}
