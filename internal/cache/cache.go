package cache

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/jobstream/internal/job"
)

// DefaultTTL is how long a terminal snapshot stays cached.
const DefaultTTL = time.Hour

// ErrNotTerminal is returned by Set for a job that has not finished.
var ErrNotTerminal = errors.New("job is not in a terminal state")

// Cache stores terminal job snapshots keyed by job id.
type Cache interface {
	// Get returns the cached snapshot. The boolean is false on a miss.
	Get(ctx context.Context, jobID string) (*job.Job, bool, error)

	// Set caches the terminal snapshot of j, replacing any previous entry.
	Set(ctx context.Context, j *job.Job) error
}
