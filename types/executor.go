package types

import "context"

// Executor is the capability the engine requires from an agent: consume a
// task's input text and produce output text. Implementations must honor
// context cancellation and deadlines; the engine treats an executor as an
// opaque, possibly-slow, possibly-failing function.
type Executor interface {
	Run(ctx context.Context, input string) (string, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, input string) (string, error)

// Run implements Executor.
func (f ExecutorFunc) Run(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// EffectKind classifies a proposed side effect.
type EffectKind string

const (
	// EffectCommand is a shell command the executor intends to run.
	EffectCommand EffectKind = "command"
	// EffectPathRead is a filesystem read the executor intends to perform.
	EffectPathRead EffectKind = "path_read"
	// EffectPathWrite is a filesystem mutation the executor intends to
	// perform.
	EffectPathWrite EffectKind = "path_write"
)

// SideEffect is an externally visible action an executor proposes to take.
// Exactly one of Command or Path is set, depending on Kind.
type SideEffect struct {
	Kind    EffectKind `json:"kind"`
	Command string     `json:"command,omitempty"`
	Path    string     `json:"path,omitempty"`
}

// EffectRequester is implemented by executors whose work produces
// externally visible side effects. Effects reports the side effects the
// executor would perform for the given input. The registry clears every
// declared effect with the safety policy before Run is invoked; a denial
// becomes a PolicyDenied result and Run never runs.
type EffectRequester interface {
	Effects(input string) []SideEffect
}
