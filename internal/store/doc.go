// Package store defines the persistence contract for job records.
// The Job Store is the single source of truth for job state; every state
// transition is a guarded update that is rejected unless the job's current
// status permits it.
package store
