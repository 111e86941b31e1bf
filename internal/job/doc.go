// Package job defines the job record tracked by the orchestration core: its
// identity, workload kind, lifecycle status, progress, and terminal outcome.
//
// The lifecycle is a small state machine:
//
//	pending -> processing -> {completed | failed | cancelled}
//	pending -> cancelled
//
// Terminal states never transition again. Stores enforce this with guarded
// updates; CanTransition is the single definition of the permitted edges.
package job
