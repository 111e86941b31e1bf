package task

import (
	"context"
	"sync/atomic"

	"github.com/phrazzld/jobstream/internal/resilience"
)

type runKey struct{}

// runState is what the executor hands a running handler through its context.
type runState struct {
	stop       <-chan struct{}
	envelope   *resilience.Envelope
	dependency string
	opts       []resilience.CallOption
	retries    atomic.Int64
}

func withRun(ctx context.Context, s *runState) context.Context {
	return context.WithValue(ctx, runKey{}, s)
}

func runFrom(ctx context.Context) *runState {
	s, _ := ctx.Value(runKey{}).(*runState)
	return s
}

// Stopped returns a channel that is closed once the job running under ctx
// has been cancelled. Cancellation never interrupts a call in flight:
// handlers check the channel between steps and return job.ErrCancelled.
// Outside a job run the channel is nil and never fires.
func Stopped(ctx context.Context) <-chan struct{} {
	if s := runFrom(ctx); s != nil {
		return s.stop
	}
	return nil
}

// Call runs fn as one external call of the job running under ctx. For
// handlers registered with RegisterPerCall, each Call gets its own pass
// through the resilience envelope, so a transient failure repeats only the
// call that failed. Elsewhere fn runs once.
func Call(ctx context.Context, fn func(ctx context.Context) error) error {
	s := runFrom(ctx)
	if s == nil || s.envelope == nil {
		return fn(ctx)
	}
	retries, err := s.envelope.Do(ctx, s.dependency, fn, s.opts...)
	s.retries.Add(int64(retries))
	return err
}
