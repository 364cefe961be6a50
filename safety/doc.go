// Package safety implements the policy that gates externally visible side
// effects before they happen. A Policy answers two questions: may this shell
// command run, and may this filesystem path be touched.
//
// Decisions are pure functions over immutable rule tables constructed once
// at startup; the policy never executes commands or touches the filesystem
// itself. Every decision is recorded for audit, and audit failures never
// block or alter a decision.
package safety
