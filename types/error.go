package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure surfaced by the engine.
type ErrorKind string

const (
	// KindConstruction marks workflow construction failures (cyclic
	// dependencies, duplicate ids, unknown agents at submission time).
	// It is the only kind that is fatal to workflow creation.
	KindConstruction ErrorKind = "CONSTRUCTION"
	// KindUnknownAgent marks a dispatch to an unregistered agent name.
	KindUnknownAgent ErrorKind = "UNKNOWN_AGENT"
	// KindPolicyDenied marks a side effect rejected by the safety policy.
	KindPolicyDenied ErrorKind = "POLICY_DENIED"
	// KindExecution marks an executor-reported failure.
	KindExecution ErrorKind = "EXECUTION"
	// KindTimedOut marks a task whose timeout elapsed before the executor
	// returned.
	KindTimedOut ErrorKind = "TIMED_OUT"
	// KindCancelled marks a task cancelled through workflow cancellation.
	KindCancelled ErrorKind = "CANCELLED"
)

// Error is a structured error with a kind, message, and optional cause.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// KindOf extracts the error kind from an error, unwrapping as needed.
// It returns an empty kind for nil and unstructured errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConstructionError reports whether err is a construction-time failure.
func IsConstructionError(err error) bool {
	return KindOf(err) == KindConstruction
}
