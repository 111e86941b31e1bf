// Package memory provides an in-process implementation of store.JobStore
// for tests and single-node development. State is lost on restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/store"
)

// JobStore is a mutex-guarded map of jobs. Every transition is checked
// and applied under the write lock, which makes guarded updates atomic.
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*job.Job
	now    func() time.Time
	logger *slog.Logger
}

var _ store.JobStore = (*JobStore)(nil)

// NewJobStore creates an empty store.
func NewJobStore(logger *slog.Logger) *JobStore {
	return &JobStore{
		jobs:   make(map[string]*job.Job),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "memory_job_store"),
	}
}

// WithClock replaces the store's time source.
func (s *JobStore) WithClock(now func() time.Time) *JobStore {
	s.now = now
	return s
}

// Create implements store.JobStore.
func (s *JobStore) Create(_ context.Context, j *job.Job) error {
	if j.Status != job.StatusPending {
		return fmt.Errorf("%w: new job must be pending, got %s", store.ErrInvalidEntity, j.Status)
	}
	if err := j.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return store.ErrDuplicate
	}
	c := j.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = c.CreatedAt
	s.jobs[j.ID] = c
	s.logger.Debug("job created", "job_id", j.ID, "job_type", j.Kind)
	return nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(_ context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return j.Clone(), nil
}

// Claim implements store.JobStore.
func (s *JobStore) Claim(_ context.Context, id string) (*job.Job, error) {
	return s.transition(id, job.StatusProcessing, func(j *job.Job, now time.Time) {
		j.StartedAt = &now
	})
}

// UpdateProgress implements store.JobStore.
func (s *JobStore) UpdateProgress(_ context.Context, id string, p job.Progress) (*job.Job, error) {
	p = p.Clamp()

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing {
		return nil, fmt.Errorf("%w: progress on %s job", store.ErrInvalidTransition, j.Status)
	}
	if p.Percentage < j.Progress.Percentage {
		return nil, store.ErrStaleProgress
	}
	j.Progress = p
	j.UpdatedAt = s.now()
	return j.Clone(), nil
}

// Complete implements store.JobStore.
func (s *JobStore) Complete(_ context.Context, id string, result json.RawMessage) (*job.Job, error) {
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: completed job requires a result", store.ErrInvalidEntity)
	}
	return s.transition(id, job.StatusCompleted, func(j *job.Job, now time.Time) {
		j.Result = append(json.RawMessage(nil), result...)
		j.Progress.Percentage = 100
		j.CompletedAt = &now
	})
}

// Fail implements store.JobStore.
func (s *JobStore) Fail(_ context.Context, id string, jobErr job.Error) (*job.Job, error) {
	if jobErr.Message == "" {
		return nil, fmt.Errorf("%w: failed job requires an error message", store.ErrInvalidEntity)
	}
	return s.transition(id, job.StatusFailed, func(j *job.Job, now time.Time) {
		e := jobErr
		j.Error = &e
		j.CompletedAt = &now
	})
}

// Cancel implements store.JobStore.
func (s *JobStore) Cancel(_ context.Context, id string, jobErr job.Error) (*job.Job, error) {
	if jobErr.Message == "" {
		return nil, fmt.Errorf("%w: cancelled job requires an error message", store.ErrInvalidEntity)
	}
	return s.transition(id, job.StatusCancelled, func(j *job.Job, now time.Time) {
		e := jobErr
		j.Error = &e
		j.CompletedAt = &now
	})
}

// ListByStatus implements store.JobStore.
func (s *JobStore) ListByStatus(_ context.Context, status job.Status, olderThan time.Duration) ([]*job.Job, error) {
	cutoff := s.now().Add(-olderThan)

	s.mu.RLock()
	var out []*job.Job
	for _, j := range s.jobs {
		if j.Status != status {
			continue
		}
		if olderThan > 0 && !j.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, j.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

// transition applies a guarded update under the write lock.
func (s *JobStore) transition(id string, to job.Status, mutate func(*job.Job, time.Time)) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	if !job.CanTransition(j.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, j.Status, to)
	}

	now := s.now()
	j.Status = to
	j.UpdatedAt = now
	mutate(j, now)
	return j.Clone(), nil
}
