package task

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/phrazzld/jobstream/internal/job"
)

// Common errors returned by Queue implementations
var (
	// ErrQueueUnavailable is returned when the backend cannot accept work,
	// either because it is not running or because the job could not be persisted.
	ErrQueueUnavailable = errors.New("task queue unavailable")

	// ErrUnknownKind is returned when no handler is registered for a job kind
	ErrUnknownKind = job.ErrUnknownKind
)

// EnqueueRequest describes a job to accept. An empty JobID is replaced with
// a generated one.
type EnqueueRequest struct {
	JobID        string
	Kind         job.Kind
	Input        json.RawMessage
	ResourceType string
	ResourceID   string
}

// Queue is the seam between request handlers and the execution backend.
// Handlers depend only on this interface so the backend can be swapped.
type Queue interface {
	// Enqueue persists a pending job and hands it to the backend.
	Enqueue(ctx context.Context, req EnqueueRequest) (*job.Job, error)

	// GetStatus returns the current status of a job.
	GetStatus(ctx context.Context, jobID string) (job.Status, error)

	// GetResult returns the result of a completed job, or nil otherwise.
	GetResult(ctx context.Context, jobID string) (json.RawMessage, error)

	// Cancel moves a pending or processing job to cancelled and signals its
	// worker. cancelled is false if the job had already finished; signalled
	// reports whether a running worker was told to stop.
	Cancel(ctx context.Context, jobID string) (cancelled, signalled bool, err error)
}
