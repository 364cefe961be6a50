// Package metrics provides the engine's Prometheus collectors: task
// executions and durations per agent, in-flight dispatch gauges, workflow
// outcomes, and safety policy decisions.
//
// This package is internal and should not be imported by external projects.
package metrics
