// Package registry maps agent names to executors and dispatches tasks to
// them. Each agent carries a concurrency cap enforced with a weighted
// semaphore and an optional dispatch rate limit.
//
// Dispatch clears every side effect an executor declares with the safety
// policy before the executor runs; a denial becomes a PolicyDenied result
// and the executor is never invoked. Concurrency slots are released exactly
// once per dispatch regardless of success, failure, timeout, or panic.
package registry
