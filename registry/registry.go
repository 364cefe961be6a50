package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/beruhq/beru/safety"
	"github.com/beruhq/beru/types"
)

// DefaultMaxConcurrent is the per-agent concurrency cap applied when
// registration does not set one.
const DefaultMaxConcurrent = 4

// DispatchRecorder receives dispatch metrics. Implemented by the internal
// metrics collector.
type DispatchRecorder interface {
	RecordTaskExecution(agent string, status types.TaskStatus, duration time.Duration)
	RecordInflight(agent string, delta float64)
}

type entry struct {
	name          string
	exec          types.Executor
	maxConcurrent int64
	slots         *semaphore.Weighted
	limiter       *rate.Limiter
}

// Registry maps agent names to executors with per-agent concurrency caps.
type Registry struct {
	policy   *safety.Policy
	logger   *zap.Logger
	recorder DispatchRecorder

	mu      sync.RWMutex
	entries map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithDispatchRecorder sets the metrics recorder.
func WithDispatchRecorder(rec DispatchRecorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// New creates a registry whose dispatches are gated by the given policy.
// A nil policy fails closed: executors that declare side effects are
// denied.
func New(policy *safety.Policy, opts ...Option) *Registry {
	r := &Registry{
		policy:  policy,
		logger:  zap.NewNop(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "executor_registry"))
	return r
}

// RegisterOption configures a single agent registration.
type RegisterOption func(*entry)

// WithMaxConcurrent sets the agent's concurrency cap.
func WithMaxConcurrent(n int) RegisterOption {
	return func(e *entry) { e.maxConcurrent = int64(n) }
}

// WithRateLimit limits how often dispatches to the agent may start.
func WithRateLimit(limit rate.Limit, burst int) RegisterOption {
	return func(e *entry) { e.limiter = rate.NewLimiter(limit, burst) }
}

// Register adds an executor under the given agent name. A non-positive
// concurrency cap is a configuration error detected here, never a runtime
// hang.
func (r *Registry) Register(name string, exec types.Executor, opts ...RegisterOption) error {
	if name == "" {
		return errors.New("agent name is required")
	}
	if exec == nil {
		return fmt.Errorf("agent %q: executor is required", name)
	}

	e := &entry{
		name:          name,
		exec:          exec,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxConcurrent <= 0 {
		return fmt.Errorf("agent %q: max concurrent must be positive, got %d", name, e.maxConcurrent)
	}
	e.slots = semaphore.NewWeighted(e.maxConcurrent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("agent %q already registered", name)
	}
	r.entries[name] = e

	r.logger.Info("agent registered",
		zap.String("agent", name),
		zap.Int64("max_concurrent", e.maxConcurrent),
	)
	return nil
}

// Registered reports whether an agent name is registered.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[name]
	return exists
}

// Names returns all registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the task on its agent's executor. It blocks until a
// concurrency slot for the agent is available, observes the task's timeout,
// and never returns an error across the engine boundary: every failure mode
// is captured in the ExecutionResult.
func (r *Registry) Dispatch(ctx context.Context, task types.Task) types.ExecutionResult {
	started := time.Now()
	result := types.ExecutionResult{
		TaskID:    task.ID,
		TaskName:  task.Name,
		AgentName: task.AgentName,
		StartedAt: started,
	}

	r.mu.RLock()
	e, exists := r.entries[task.AgentName]
	r.mu.RUnlock()
	if !exists {
		result.Status = types.TaskFailed
		result.Err = types.Errorf(types.KindUnknownAgent, "agent %q is not registered", task.AgentName)
		result.Duration = time.Since(started)
		return r.finish(result)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			result.Status = types.TaskCancelled
			result.Err = types.NewError(types.KindCancelled, "cancelled while rate limited").WithCause(err)
			result.Duration = time.Since(started)
			return r.finish(result)
		}
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		result.Status = types.TaskCancelled
		result.Err = types.NewError(types.KindCancelled, "cancelled while waiting for a slot").WithCause(err)
		result.Duration = time.Since(started)
		return r.finish(result)
	}
	defer e.slots.Release(1)

	if r.recorder != nil {
		r.recorder.RecordInflight(task.AgentName, 1)
		defer r.recorder.RecordInflight(task.AgentName, -1)
	}

	if denied := r.clearEffects(e, task); denied != nil {
		result.Status = types.TaskFailed
		result.Err = denied
		result.Duration = time.Since(started)
		return r.finish(result)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	r.logger.Debug("dispatching task",
		zap.String("task_id", task.ID),
		zap.String("agent", task.AgentName),
	)

	output, err := r.invoke(runCtx, e, task.Input)
	result.Duration = time.Since(started)

	switch {
	case err == nil:
		result.Status = types.TaskSucceeded
		result.Output = output
	case runCtx.Err() == context.DeadlineExceeded && task.Timeout > 0:
		result.Status = types.TaskTimedOut
		result.Err = types.Errorf(types.KindTimedOut, "task timed out after %s", task.Timeout)
	case ctx.Err() != nil:
		result.Status = types.TaskCancelled
		result.Err = types.NewError(types.KindCancelled, "task cancelled").WithCause(err)
	default:
		result.Status = types.TaskFailed
		result.Err = asExecutionError(err)
	}

	return r.finish(result)
}

// clearEffects evaluates every side effect the executor declares for the
// task's input. The first denial wins.
func (r *Registry) clearEffects(e *entry, task types.Task) *types.Error {
	requester, ok := e.exec.(types.EffectRequester)
	if !ok {
		return nil
	}
	effects := requester.Effects(task.Input)
	if len(effects) == 0 {
		return nil
	}
	if r.policy == nil {
		return types.NewError(types.KindPolicyDenied, "no safety policy configured")
	}

	for _, effect := range effects {
		var d safety.Decision
		switch effect.Kind {
		case types.EffectCommand:
			d = r.policy.EvaluateCommand(effect.Command)
		case types.EffectPathRead, types.EffectPathWrite:
			d = r.policy.EvaluatePath(effect.Path, nil)
		default:
			d = safety.Deny(fmt.Sprintf("unknown effect kind %q", effect.Kind))
		}
		if !d.Allowed {
			r.logger.Warn("side effect denied",
				zap.String("task_id", task.ID),
				zap.String("agent", e.name),
				zap.String("effect", string(effect.Kind)),
				zap.String("reason", d.Reason),
			)
			return types.NewError(types.KindPolicyDenied, d.Reason)
		}
	}
	return nil
}

// invoke runs the executor with panic containment. A panicking executor
// becomes an execution failure; its slot is still released by Dispatch.
func (r *Registry) invoke(ctx context.Context, e *entry, input string) (output string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("executor panicked",
				zap.String("agent", e.name),
				zap.Any("panic", rec),
			)
			err = types.Errorf(types.KindExecution, "executor panicked: %v", rec)
		}
	}()
	return e.exec.Run(ctx, input)
}

func (r *Registry) finish(result types.ExecutionResult) types.ExecutionResult {
	if r.recorder != nil {
		r.recorder.RecordTaskExecution(result.AgentName, result.Status, result.Duration)
	}
	if result.Err != nil {
		r.logger.Debug("dispatch finished",
			zap.String("task_id", result.TaskID),
			zap.String("status", string(result.Status)),
			zap.String("error", result.Err.Error()),
		)
	}
	return result
}

// asExecutionError preserves structured errors and wraps everything else
// as an execution failure.
func asExecutionError(err error) *types.Error {
	var structured *types.Error
	if errors.As(err, &structured) {
		return structured
	}
	return types.NewError(types.KindExecution, err.Error()).WithCause(err)
}
