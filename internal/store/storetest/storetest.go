// Package storetest is a conformance suite run against every
// store.JobStore implementation.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.JobStore

var cancelErr = job.Error{Code: job.ErrorCodeCancelled, Message: "job cancelled"}

// NewPendingJob returns a valid pending job with a fresh id.
func NewPendingJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New("", job.KindDocumentSynthesis, json.RawMessage(`{"template":"welcome"}`))
	require.NoError(t, err)
	j.ResourceType = "client"
	j.ResourceID = "c-42"
	return j
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
	t.Run("HappyPath", func(t *testing.T) { testHappyPath(t, newStore(t)) })
	t.Run("Fail", func(t *testing.T) { testFail(t, newStore(t)) })
	t.Run("CancelPending", func(t *testing.T) { testCancelPending(t, newStore(t)) })
	t.Run("TerminalIsFinal", func(t *testing.T) { testTerminalIsFinal(t, newStore(t)) })
	t.Run("InvalidEdges", func(t *testing.T) { testInvalidEdges(t, newStore(t)) })
	t.Run("ProgressMonotonic", func(t *testing.T) { testProgressMonotonic(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
	t.Run("ListByStatus", func(t *testing.T) { testListByStatus(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	j := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, j))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, job.KindDocumentSynthesis, got.Kind)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Equal(t, "client", got.ResourceType)
	assert.Equal(t, "c-42", got.ResourceID)
	assert.JSONEq(t, `{"template":"welcome"}`, string(got.Input))
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.NoError(t, got.Validate())
}

func testCreateDuplicate(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	j := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, j))

	assert.ErrorIs(t, s.Create(ctx, j), store.ErrDuplicate)
}

func testGetUnknown(t *testing.T, s store.JobStore) {
	_, err := s.Get(context.Background(), "6f1c1f55-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func testHappyPath(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	j := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, j))

	claimed, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	progressed, err := s.UpdateProgress(ctx, j.ID, job.Progress{Percentage: 50, Stage: "drafting"})
	require.NoError(t, err)
	assert.Equal(t, 50, progressed.Progress.Percentage)
	assert.Equal(t, "drafting", progressed.Progress.Stage)

	done, err := s.Complete(ctx, j.ID, json.RawMessage(`{"template_ids":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.JSONEq(t, `{"template_ids":["a","b"]}`, string(done.Result))
	assert.Nil(t, done.Error)
	require.NotNil(t, done.CompletedAt)
	assert.NoError(t, done.Validate())

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
}

func testFail(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	j := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, j))
	_, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)

	failed, err := s.Fail(ctx, j.ID, job.Error{
		Code:       job.ErrorCodeTransientExhausted,
		Message:    "upstream unavailable",
		RetryCount: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, job.ErrorCodeTransientExhausted, failed.Error.Code)
	assert.Equal(t, 3, failed.Error.RetryCount)
	assert.Empty(t, failed.Result)
	assert.NoError(t, failed.Validate())
}

func testCancelPending(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	j := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, j))

	cancelled, err := s.Cancel(ctx, j.ID, cancelErr)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.StartedAt)
	assert.NoError(t, cancelled.Validate())

	_, err = s.Claim(ctx, j.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func testTerminalIsFinal(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	j := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, j))
	_, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)
	_, err = s.Complete(ctx, j.ID, json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)

	attempts := map[string]func() error{
		"claim": func() error { _, err := s.Claim(ctx, j.ID); return err },
		"complete": func() error {
			_, err := s.Complete(ctx, j.ID, json.RawMessage(`{"ok":false}`))
			return err
		},
		"fail": func() error {
			_, err := s.Fail(ctx, j.ID, job.Error{Code: job.ErrorCodeInternal, Message: "late"})
			return err
		},
		"cancel": func() error { _, err := s.Cancel(ctx, j.ID, cancelErr); return err },
		"progress": func() error {
			_, err := s.UpdateProgress(ctx, j.ID, job.Progress{Percentage: 100})
			return err
		},
	}
	for name, attempt := range attempts {
		assert.ErrorIs(t, attempt(), store.ErrInvalidTransition, name)
	}

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	assert.Nil(t, got.Error)
}

func testInvalidEdges(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	j := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, j))

	_, err := s.Complete(ctx, j.ID, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	_, err = s.Fail(ctx, j.ID, job.Error{Code: job.ErrorCodeInternal, Message: "x"})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	_, err = s.UpdateProgress(ctx, j.ID, job.Progress{Percentage: 10})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)

	_, err = s.Claim(ctx, "6f1c1f55-0000-4000-8000-000000000001")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testProgressMonotonic(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	j := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, j))
	_, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)

	_, err = s.UpdateProgress(ctx, j.ID, job.Progress{Percentage: 60, Stage: "b"})
	require.NoError(t, err)

	_, err = s.UpdateProgress(ctx, j.ID, job.Progress{Percentage: 40, Stage: "a"})
	assert.ErrorIs(t, err, store.ErrStaleProgress)

	same, err := s.UpdateProgress(ctx, j.ID, job.Progress{Percentage: 60, Stage: "c"})
	require.NoError(t, err)
	assert.Equal(t, "c", same.Progress.Stage)

	clamped, err := s.UpdateProgress(ctx, j.ID, job.Progress{Percentage: 250, Stage: "d"})
	require.NoError(t, err)
	assert.Equal(t, 100, clamped.Progress.Percentage)
}

func testConcurrentClaim(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	j := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, j))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Claim(ctx, j.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func testListByStatus(t *testing.T, s store.JobStore) {
	ctx := context.Background()
	first := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, first))
	second := NewPendingJob(t)
	second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
	require.NoError(t, s.Create(ctx, second))
	third := NewPendingJob(t)
	require.NoError(t, s.Create(ctx, third))
	_, err := s.Claim(ctx, third.ID)
	require.NoError(t, err)

	pending, err := s.ListByStatus(ctx, job.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	processing, err := s.ListByStatus(ctx, job.StatusProcessing, 0)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, third.ID, processing[0].ID)

	stale, err := s.ListByStatus(ctx, job.StatusProcessing, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
