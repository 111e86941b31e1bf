package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func progressEvent(jobID string, pct int) *Event {
	return &Event{Type: TypeProgress, JobID: jobID, Status: StatusRunning, Progress: &pct, Timestamp: time.Now().UTC()}
}

func receive(t *testing.T, sub Subscription) *Event {
	t.Helper()
	select {
	case e, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case e := <-sub.C():
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryBus_PublishReachesBothChannels(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	global, err := bus.Subscribe(ctx, GlobalChannel)
	require.NoError(t, err)
	own, err := bus.Subscribe(ctx, JobChannel("a"))
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, JobChannel("b"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, progressEvent("a", 10)))

	assert.Equal(t, "a", receive(t, global).JobID)
	assert.Equal(t, "a", receive(t, own).JobID)
	assertNoEvent(t, other)
}

func TestMemoryBus_FanOutPreservesOrder(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	const subscribers = 5
	subs := make([]Subscription, subscribers)
	for i := range subs {
		s, err := bus.Subscribe(ctx, JobChannel("j"))
		require.NoError(t, err)
		subs[i] = s
	}

	for pct := 0; pct <= 100; pct += 10 {
		require.NoError(t, bus.Publish(ctx, progressEvent("j", pct)))
	}

	var wg sync.WaitGroup
	results := make([][]int, subscribers)
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s Subscription) {
			defer wg.Done()
			for n := 0; n < 11; n++ {
				e := <-s.C()
				results[i] = append(results[i], *e.Progress)
			}
		}(i, s)
	}
	wg.Wait()

	want := []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	for i := range results {
		assert.Equal(t, want, results[i], "subscriber %d", i)
	}
}

func TestMemoryBus_OnlyEventsAfterSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	require.NoError(t, bus.Publish(ctx, progressEvent("j", 10)))
	sub, err := bus.Subscribe(ctx, JobChannel("j"))
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, progressEvent("j", 20)))

	assert.Equal(t, 20, *receive(t, sub).Progress)
	assertNoEvent(t, sub)
}

func TestMemoryBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(testLogger(), WithBufferSize(2))
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, JobChannel("j"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_ = bus.Publish(ctx, progressEvent("j", i))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	delivered, dropped := bus.Stats()
	assert.Equal(t, int64(2), delivered)
	assert.Equal(t, int64(3), dropped)
	assert.Equal(t, 0, *receive(t, sub).Progress)
}

func TestMemoryBus_CloseSubscription(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, JobChannel("j"))
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount(JobChannel("j")))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	assert.Equal(t, 0, bus.SubscriberCount(JobChannel("j")))
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.NoError(t, bus.Publish(ctx, progressEvent("j", 1)))
}

func TestMemoryBus_Close(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(testLogger())

	sub, err := bus.Subscribe(ctx, GlobalChannel)
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Publish(ctx, progressEvent("j", 1)), ErrBusClosed)
	_, err = bus.Subscribe(ctx, GlobalChannel)
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.NoError(t, sub.Close())
}

func TestMemoryBus_ConcurrentPublishAndClose(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(testLogger(), WithBufferSize(1))
	defer bus.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		jobID := fmt.Sprintf("j%d", i%3)
		go func() {
			defer wg.Done()
			s, err := bus.Subscribe(ctx, JobChannel(jobID))
			if err == nil {
				_ = s.Close()
			}
		}()
		go func() {
			defer wg.Done()
			_ = bus.Publish(ctx, progressEvent(jobID, 1))
		}()
	}
	wg.Wait()
}

func TestConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, GlobalChannel)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	var failures []error
	handler := HandlerFunc(func(_ context.Context, e *Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.JobID)
		if e.JobID == "bad" {
			return errors.New("handler failed")
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		Consume(ctx, sub, handler, func(_ *Event, err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, err)
		})
	}()

	for _, id := range []string{"a", "bad", "c"} {
		require.NoError(t, bus.Publish(ctx, progressEvent(id, 1)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "bad", "c"}, seen)
	assert.Len(t, failures, 1)
	assert.Equal(t, 0, bus.SubscriberCount(GlobalChannel))
}
