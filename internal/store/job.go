package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phrazzld/jobstream/internal/job"
)

// JobStore defines the interface for persisting jobs and their transitions.
//
// Every mutating method other than Create is a guarded update: it succeeds only
// if the edge from the job's current status is permitted by job.CanTransition,
// and otherwise returns ErrInvalidTransition without modifying the job.
// Methods that complete a transition return the job as stored afterwards.
type JobStore interface {
	// Create inserts a new pending job.
	// Returns ErrDuplicate if a job with the same id exists.
	Create(ctx context.Context, j *job.Job) error

	// Get retrieves a job by id.
	// Returns ErrNotFound if the job does not exist.
	Get(ctx context.Context, id string) (*job.Job, error)

	// Claim moves a pending job to processing and stamps started_at.
	// At most one caller can claim a given job.
	Claim(ctx context.Context, id string) (*job.Job, error)

	// UpdateProgress records a progress report for a processing job.
	// Returns ErrStaleProgress if the percentage would decrease.
	UpdateProgress(ctx context.Context, id string, p job.Progress) (*job.Job, error)

	// Complete moves a processing job to completed with the given result.
	Complete(ctx context.Context, id string, result json.RawMessage) (*job.Job, error)

	// Fail moves a processing job to failed with the given structured error.
	Fail(ctx context.Context, id string, jobErr job.Error) (*job.Job, error)

	// Cancel moves a pending or processing job to cancelled.
	Cancel(ctx context.Context, id string, jobErr job.Error) (*job.Job, error)

	// ListByStatus retrieves jobs in the given status ordered by creation time.
	// If olderThan is non-zero, only jobs last updated before now-olderThan are returned.
	ListByStatus(ctx context.Context, status job.Status, olderThan time.Duration) ([]*job.Job, error)
}
