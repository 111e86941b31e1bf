// Package task runs jobs in the background. The Runner owns a bounded
// dispatch channel and a pool of workers; the Executor drives a single job
// through claim, handler execution under the resilience envelope, and the
// terminal transition, publishing a lifecycle event after every persisted
// change. Pending jobs survive restarts because the store, not the channel,
// is the source of truth.
package task
