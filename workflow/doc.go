// Package workflow contains the orchestration core: the task graph with its
// dependency-driven scheduling, the event-driven engine that walks it, and
// the aggregation of per-task outcomes into a workflow report.
//
// A workflow is built once through Builder (which validates ids, references,
// and acyclicity), submitted to an Engine, and observed through the returned
// Run handle. The workflow is the unit of cancellation: cancelling a run
// signals every in-flight task and marks everything not yet dispatched as
// cancelled.
//
// Failure policy is explicit and mode-dependent: parallel workflows tolerate
// independent-task failures and complete with the failures enumerated, while
// sequential and mixed workflows fail as a whole when any task fails or
// times out. In every mode a non-success terminal task causes all of its
// transitive dependents to be skipped without dispatch.
package workflow
