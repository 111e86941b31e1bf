package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Envelope composes the retry policy and the circuit breaker around a unit
// of work. It is safe for concurrent use.
type Envelope struct {
	policy   Policy
	breakers *Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewEnvelope creates an Envelope. A nil logger discards retry logs.
func NewEnvelope(policy Policy, breakers *Registry, logger *slog.Logger) *Envelope {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Envelope{
		policy:   policy,
		breakers: breakers,
		logger:   logger.With("component", "resilience"),
		now:      time.Now,
	}
}

// Breakers returns the registry shared by this envelope.
func (e *Envelope) Breakers() *Registry {
	return e.breakers
}

type callOptions struct {
	stop         <-chan struct{}
	softDeadline time.Time
	onRetry      func(attempt int, err error)
}

// CallOption customizes a single Do call.
type CallOption func(*callOptions)

// WithStop makes Do give up with ErrStopped once stop is closed. The check
// happens between attempts; an attempt in flight is never interrupted.
func WithStop(stop <-chan struct{}) CallOption {
	return func(o *callOptions) { o.stop = stop }
}

// WithSoftDeadline makes Do give up instead of retrying when the next
// attempt would start after t.
func WithSoftDeadline(t time.Time) CallOption {
	return func(o *callOptions) { o.softDeadline = t }
}

// OnRetry registers a hook invoked before each retry wait.
func OnRetry(fn func(attempt int, err error)) CallOption {
	return func(o *callOptions) { o.onRetry = fn }
}

// Do runs fn under the breaker for key, retrying transient failures with
// backoff. It returns the number of retries consumed alongside fn's final
// error, which is wrapped with ErrCircuitOpen, ErrRetriesExhausted,
// ErrSoftDeadline or ErrStopped when the envelope rather than fn ended the
// call.
func (e *Envelope) Do(ctx context.Context, key string, fn func(ctx context.Context) error, opts ...CallOption) (int, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	breaker := e.breakers.Get(key)

	for attempt := 0; ; attempt++ {
		if stopped(o.stop) {
			return attempt, ErrStopped
		}
		if err := breaker.Allow(); err != nil {
			return attempt, fmt.Errorf("%w: %s", err, key)
		}

		err := fn(ctx)
		breaker.Record(err)
		if err == nil {
			return attempt, nil
		}
		if !IsTransient(err) {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		if attempt >= e.policy.MaxRetries {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		delay := e.policy.Delay(attempt)
		if !o.softDeadline.IsZero() && e.now().Add(delay).After(o.softDeadline) {
			return attempt, fmt.Errorf("%w: %w", ErrSoftDeadline, err)
		}

		e.logger.Debug("retrying transient failure",
			slog.String("dependency", key),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if o.onRetry != nil {
			o.onRetry(attempt+1, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("%w: %v", ctx.Err(), err)
		case <-o.stop:
			timer.Stop()
			return attempt, ErrStopped
		case <-timer.C:
		}
	}
}

func stopped(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
