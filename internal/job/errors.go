package job

import "errors"

// Common errors returned by the job package
var (
	// ErrUnknownKind is returned when a job names a workload kind with no handler
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrInvalidJob is returned when a job record violates the outcome invariant
	ErrInvalidJob = errors.New("invalid job")
)

// ErrCancelled is returned when work stops because its job was cancelled
var ErrCancelled = errors.New("job cancelled")
