// Package types defines the shared data model of the orchestration engine:
// tasks, workflows, execution results, the executor contract, and the
// structured error taxonomy used across packages.
//
// Types here are consumed by the safety, registry, and workflow packages and
// carry no behavior beyond construction and simple predicates.
package types
