package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/jobstream/internal/cache"
	"github.com/phrazzld/jobstream/internal/events"
	"github.com/phrazzld/jobstream/internal/store"
)

// DefaultHeartbeat is the idle interval between keep-alive comments.
const DefaultHeartbeat = 15 * time.Second

// ErrUnexpectedEnd is returned when the bus closes a subscription before
// the job reached a terminal state.
var ErrUnexpectedEnd = errors.New("event feed ended before job finished")

// Sink receives the events of one stream in order.
type Sink interface {
	Event(e *events.Event) error
	Heartbeat() error
}

// Gateway opens streams for jobs.
type Gateway struct {
	cache     cache.Cache
	store     store.JobStore
	bus       events.Bus
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewGateway creates a Gateway. A non-positive heartbeat uses DefaultHeartbeat.
func NewGateway(c cache.Cache, s store.JobStore, bus events.Bus, heartbeat time.Duration, logger *slog.Logger) *Gateway {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Gateway{
		cache:     c,
		store:     s,
		bus:       bus,
		heartbeat: heartbeat,
		logger:    logger.With("component", "stream_gateway"),
	}
}

// Stream is an opened feed for one job. Exactly one of done and sub is set.
type Stream struct {
	jobID   string
	done    *events.Event
	sub     events.Subscription
	gateway *Gateway
}

// Open resolves everything that can fail before the first byte is sent.
// It returns store.ErrNotFound for an unknown job.
func (g *Gateway) Open(ctx context.Context, jobID string) (*Stream, error) {
	snapshot, hit, err := g.cache.Get(ctx, jobID)
	if err != nil {
		g.logger.Warn("cache lookup failed, falling back to store", "job_id", jobID, "error", err)
	}
	if hit {
		if e, ok := events.Terminal(snapshot); ok {
			return &Stream{jobID: jobID, done: e, gateway: g}, nil
		}
	}

	// Subscribe before reading the store so a transition between the two
	// is either seen in the store or delivered on the subscription.
	sub, err := g.bus.Subscribe(ctx, events.JobChannel(jobID))
	if err != nil {
		return nil, fmt.Errorf("subscribe to job %s: %w", jobID, err)
	}
	j, err := g.store.Get(ctx, jobID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	if e, ok := events.Terminal(j); ok {
		_ = sub.Close()
		return &Stream{jobID: jobID, done: e, gateway: g}, nil
	}
	return &Stream{jobID: jobID, sub: sub, gateway: g}, nil
}

// Serve forwards events to sink until the job finishes, ctx is done, or
// the sink fails. It closes the stream before returning.
func (s *Stream) Serve(ctx context.Context, sink Sink) error {
	defer s.Close()
	if s.done != nil {
		return sink.Event(s.done)
	}

	ticker := time.NewTicker(s.gateway.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-s.sub.C():
			if !ok {
				if done, err := s.finishFromStore(ctx, sink); done || err != nil {
					return err
				}
				return ErrUnexpectedEnd
			}
			if err := sink.Event(e); err != nil {
				return err
			}
			if e.Type.IsTerminal() {
				return nil
			}

		case <-ticker.C:
			if err := sink.Heartbeat(); err != nil {
				return err
			}
			if done, err := s.finishFromStore(ctx, sink); done || err != nil {
				return err
			}
		}
	}
}

// Close releases the subscription. It is safe to call more than once.
func (s *Stream) Close() {
	if s.sub != nil {
		_ = s.sub.Close()
	}
}

// finishFromStore emits the terminal event if the job has finished.
func (s *Stream) finishFromStore(ctx context.Context, sink Sink) (bool, error) {
	j, err := s.gateway.store.Get(ctx, s.jobID)
	if err != nil {
		s.gateway.logger.Warn("store re-check failed", "job_id", s.jobID, "error", err)
		return false, nil
	}
	e, ok := events.Terminal(j)
	if !ok {
		return false, nil
	}
	return true, sink.Event(e)
}
