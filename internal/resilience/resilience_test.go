package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	testCases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"unclassified", base, false},
		{"transient", Transient(base), true},
		{"permanent", Permanent(base), false},
		{"wrapped transient", fmt.Errorf("calling api: %w", Transient(base)), true},
		{"permanent outside transient", Permanent(Transient(base)), false},
		{"deadline exceeded", fmt.Errorf("dial: %w", context.DeadlineExceeded), true},
		{"bare deadline exceeded", context.DeadlineExceeded, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, IsTransient(tc.err))
			if tc.err != nil {
				assert.Equal(t, !tc.transient, IsPermanent(tc.err))
			}
		})
	}

	assert.NoError(t, Transient(nil))
	assert.NoError(t, Permanent(nil))
	assert.ErrorIs(t, Transient(base), base)
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxRetries: 3, Base: 100 * time.Millisecond, Cap: time.Second}

	testCases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{30, time.Second},
		{-1, 100 * time.Millisecond},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("attempt_%d", tc.attempt), func(t *testing.T) {
			assert.Equal(t, tc.want, p.Delay(tc.attempt))
		})
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(3, 10*time.Second)
	b.now = clock.Now

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Failure()
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, clock.Now(), b.OpenedAt().UTC())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(2, time.Second)

	b.Failure()
	b.Success()
	b.Failure()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Failures())
}

func TestBreaker_HalfOpenAdmitsOneTrial(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(1, 10*time.Second)
	b.now = clock.Now

	b.Failure()
	require.Equal(t, StateOpen, b.State())

	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clock.Advance(time.Second)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_TrialOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBreaker(1, time.Second)
		b.now = clock.Now
		b.Failure()
		clock.Advance(time.Second)
		require.NoError(t, b.Allow())

		b.Success()

		assert.Equal(t, StateClosed, b.State())
		assert.NoError(t, b.Allow())
	})

	t.Run("failure reopens", func(t *testing.T) {
		clock := newFakeClock()
		b := NewBreaker(1, time.Second)
		b.now = clock.Now
		b.Failure()
		clock.Advance(time.Second)
		require.NoError(t, b.Allow())

		clock.Advance(time.Millisecond)
		b.Failure()

		assert.Equal(t, StateOpen, b.State())
		assert.Equal(t, clock.Now(), b.OpenedAt().UTC())
		assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	})
}

func TestBreaker_RecordIgnoresPermanent(t *testing.T) {
	b := NewBreaker(1, time.Minute)

	b.Record(Permanent(errors.New("bad input")))
	assert.Equal(t, StateClosed, b.State())

	b.Record(Transient(errors.New("timeout")))
	assert.Equal(t, StateOpen, b.State())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(1, time.Minute)

	a := r.Get("gemini")
	assert.Same(t, a, r.Get("gemini"))
	assert.NotSame(t, a, r.Get("warehouse"))

	a.Failure()

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "gemini", snap[0].Key)
	assert.Equal(t, "open", snap[0].State)
	assert.Equal(t, 1, snap[0].Failures)
	assert.NotNil(t, snap[0].OpenedAt)
	assert.Equal(t, "warehouse", snap[1].Key)
	assert.Equal(t, "closed", snap[1].State)
	assert.Nil(t, snap[1].OpenedAt)
}

func newTestEnvelope(maxRetries, threshold int) *Envelope {
	policy := Policy{MaxRetries: maxRetries, Base: time.Millisecond, Cap: 4 * time.Millisecond}
	return NewEnvelope(policy, NewRegistry(threshold, time.Minute), nil)
}

func TestEnvelope_Do(t *testing.T) {
	transient := Transient(errors.New("rate limited"))
	permanent := Permanent(errors.New("schema mismatch"))

	testCases := []struct {
		name        string
		results     []error
		wantErr     error
		wantCalls   int
		wantRetries int
	}{
		{
			name:      "success first try",
			results:   []error{nil},
			wantCalls: 1,
		},
		{
			name:        "two transients then success",
			results:     []error{transient, transient, nil},
			wantCalls:   3,
			wantRetries: 2,
		},
		{
			name:      "permanent is not retried",
			results:   []error{permanent},
			wantErr:   permanent,
			wantCalls: 1,
		},
		{
			name:        "transient exhausts budget",
			results:     []error{transient, transient, transient, transient},
			wantErr:     ErrRetriesExhausted,
			wantCalls:   4,
			wantRetries: 3,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnvelope(3, 100)
			calls := 0

			retries, err := env.Do(context.Background(), "dep", func(context.Context) error {
				err := tc.results[calls]
				calls++
				return err
			})

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantCalls, calls)
			assert.Equal(t, tc.wantRetries, retries)
		})
	}
}

func TestEnvelope_CircuitOpenFailsFast(t *testing.T) {
	env := newTestEnvelope(0, 2)
	calls := 0
	fail := func(context.Context) error {
		calls++
		return Transient(errors.New("unavailable"))
	}

	for i := 0; i < 2; i++ {
		_, err := env.Do(context.Background(), "dep", fail)
		require.ErrorIs(t, err, ErrRetriesExhausted)
	}
	require.Equal(t, 2, calls)

	_, err := env.Do(context.Background(), "dep", fail)

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open breaker must not invoke the dependency")

	_, err = env.Do(context.Background(), "other", func(context.Context) error { return nil })
	assert.NoError(t, err, "breakers are per dependency")
}

func TestEnvelope_StopBetweenAttempts(t *testing.T) {
	env := newTestEnvelope(5, 100)
	stop := make(chan struct{})
	calls := 0

	_, err := env.Do(context.Background(), "dep", func(context.Context) error {
		calls++
		close(stop)
		return Transient(errors.New("slow"))
	}, WithStop(stop))

	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 1, calls)
}

func TestEnvelope_SoftDeadline(t *testing.T) {
	env := newTestEnvelope(5, 100)
	clock := newFakeClock()
	env.now = clock.Now
	calls := 0

	retries, err := env.Do(context.Background(), "dep", func(context.Context) error {
		calls++
		return Transient(errors.New("slow"))
	}, WithSoftDeadline(clock.Now()))

	assert.ErrorIs(t, err, ErrSoftDeadline)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, retries)
}

func TestEnvelope_ContextCancelled(t *testing.T) {
	env := NewEnvelope(Policy{MaxRetries: 5, Base: time.Hour, Cap: time.Hour}, NewRegistry(100, time.Minute), nil)
	ctx, cancel := context.WithCancel(context.Background())

	var retried []int
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := env.Do(ctx, "dep", func(context.Context) error {
		return Transient(errors.New("slow"))
	}, OnRetry(func(attempt int, _ error) { retried = append(retried, attempt) }))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1}, retried)
}
