package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/jobstream/internal/cache"
	"github.com/phrazzld/jobstream/internal/events"
	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/platform/memory"
	"github.com/phrazzld/jobstream/internal/store"
)

type recordingSink struct {
	mu         sync.Mutex
	events     []*events.Event
	heartbeats int
}

func (s *recordingSink) Event(e *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

func (s *recordingSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store   *memory.JobStore
	cache   *cache.MemoryCache
	bus     *events.MemoryBus
	gateway *Gateway
}

func newFixture(t *testing.T, heartbeat time.Duration) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	f := &fixture{
		store: memory.NewJobStore(logger),
		cache: cache.NewMemoryCache(time.Hour),
		bus:   events.NewMemoryBus(logger),
	}
	t.Cleanup(func() { _ = f.bus.Close() })
	f.gateway = NewGateway(f.cache, f.store, f.bus, heartbeat, logger)
	return f
}

func (f *fixture) createJob(t *testing.T, id string) *job.Job {
	t.Helper()
	j, err := job.New(id, job.KindDocumentSynthesis, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, f.store.Create(context.Background(), j))
	return j
}

func (f *fixture) completeJob(t *testing.T, id string) *job.Job {
	t.Helper()
	ctx := context.Background()
	f.createJob(t, id)
	_, err := f.store.Claim(ctx, id)
	require.NoError(t, err)
	done, err := f.store.Complete(ctx, id, json.RawMessage(`{"template_ids":["a","b"]}`))
	require.NoError(t, err)
	return done
}

func serve(t *testing.T, s *Stream, sink Sink) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background(), sink) }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not finish")
		return nil
	}
}

func TestGateway_CacheHit(t *testing.T) {
	f := newFixture(t, time.Hour)
	done := f.completeJob(t, "cached")
	require.NoError(t, f.cache.Set(context.Background(), done))

	s, err := f.gateway.Open(context.Background(), "cached")
	require.NoError(t, err)
	assert.Equal(t, 0, f.bus.SubscriberCount(events.JobChannel("cached")))

	sink := &recordingSink{}
	require.NoError(t, serve(t, s, sink))
	require.Len(t, sink.events, 1)
	assert.Equal(t, events.TypeCompleted, sink.events[0].Type)
	assert.Equal(t, []string{"a", "b"}, sink.events[0].TemplateIDs)
}

func TestGateway_UnknownJob(t *testing.T) {
	f := newFixture(t, time.Hour)

	_, err := f.gateway.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.bus.SubscriberCount(events.JobChannel("missing")))
}

func TestGateway_FinishedBeforeSubscribe(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.completeJob(t, "early")

	s, err := f.gateway.Open(context.Background(), "early")
	require.NoError(t, err)
	assert.Equal(t, 0, f.bus.SubscriberCount(events.JobChannel("early")))

	sink := &recordingSink{}
	require.NoError(t, serve(t, s, sink))
	assert.Equal(t, []events.Type{events.TypeCompleted}, sink.types())
}

func TestGateway_ForwardsUntilTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	j := f.createJob(t, "live")

	s, err := f.gateway.Open(ctx, "live")
	require.NoError(t, err)

	claimed, err := f.store.Claim(ctx, j.ID)
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(ctx, events.Started(claimed)))
	progressed, err := f.store.UpdateProgress(ctx, j.ID, job.Progress{Percentage: 40, Stage: "drafting"})
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(ctx, events.ProgressReported(progressed)))
	failed, err := f.store.Fail(ctx, j.ID, job.Error{Code: job.ErrorCodePermanent, Message: "bad input"})
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(ctx, events.Failed(failed)))

	sink := &recordingSink{}
	require.NoError(t, serve(t, s, sink))
	assert.Equal(t, []events.Type{events.TypeStarted, events.TypeProgress, events.TypeFailed}, sink.types())
	assert.Equal(t, "bad input", sink.events[2].ErrorMessage)
	assert.Equal(t, 0, f.bus.SubscriberCount(events.JobChannel("live")))
}

func TestGateway_FanOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Hour)
	j := f.createJob(t, "shared")

	const subscribers = 5
	streams := make([]*Stream, subscribers)
	for i := range streams {
		s, err := f.gateway.Open(ctx, j.ID)
		require.NoError(t, err)
		streams[i] = s
	}

	sinks := make([]*recordingSink, subscribers)
	var wg sync.WaitGroup
	for i, s := range streams {
		sinks[i] = &recordingSink{}
		wg.Add(1)
		go func(s *Stream, sink *recordingSink) {
			defer wg.Done()
			assert.NoError(t, s.Serve(ctx, sink))
		}(s, sinks[i])
	}

	claimed, err := f.store.Claim(ctx, j.ID)
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(ctx, events.Started(claimed)))
	for pct := 10; pct <= 90; pct += 20 {
		updated, err := f.store.UpdateProgress(ctx, j.ID, job.Progress{Percentage: pct, Stage: fmt.Sprintf("step-%d", pct)})
		require.NoError(t, err)
		require.NoError(t, f.bus.Publish(ctx, events.ProgressReported(updated)))
	}
	done, err := f.store.Complete(ctx, j.ID, json.RawMessage(`{"template_ids":["x"]}`))
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(ctx, events.Completed(done)))

	wg.Wait()
	want := sinks[0].events
	require.Len(t, want, 7)
	for _, sink := range sinks[1:] {
		require.Len(t, sink.events, len(want))
		for i := range want {
			assert.Equal(t, want[i].Type, sink.events[i].Type)
			assert.Equal(t, want[i].Progress, sink.events[i].Progress)
		}
	}
}

func TestGateway_HeartbeatRechecksStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Millisecond)
	f.createJob(t, "quiet")

	s, err := f.gateway.Open(ctx, "quiet")
	require.NoError(t, err)

	// The terminal event is never published; only the store knows.
	_, err = f.store.Claim(ctx, "quiet")
	require.NoError(t, err)
	_, err = f.store.Complete(ctx, "quiet", json.RawMessage(`{}`))
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, serve(t, s, sink))
	assert.Equal(t, []events.Type{events.TypeCompleted}, sink.types())
	assert.GreaterOrEqual(t, sink.heartbeats, 1)
}

func TestGateway_ClientDisconnect(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.createJob(t, "abandoned")

	s, err := f.gateway.Open(context.Background(), "abandoned")
	require.NoError(t, err)
	require.Equal(t, 1, f.bus.SubscriberCount(events.JobChannel("abandoned")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Serve(ctx, &recordingSink{}), context.Canceled)
	assert.Equal(t, 0, f.bus.SubscriberCount(events.JobChannel("abandoned")))
}

func TestGateway_BusClosedBeforeFinish(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.createJob(t, "orphaned")

	s, err := f.gateway.Open(context.Background(), "orphaned")
	require.NoError(t, err)
	require.NoError(t, f.bus.Close())

	assert.ErrorIs(t, serve(t, s, &recordingSink{}), ErrUnexpectedEnd)
}
