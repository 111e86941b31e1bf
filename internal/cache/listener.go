package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/jobstream/internal/events"
	"github.com/phrazzld/jobstream/internal/store"
)

// Listener writes terminal snapshots into a Cache as terminal events
// arrive on the global channel. Snapshots are read from the store rather
// than rebuilt from the event, so cached reads match the store exactly.
type Listener struct {
	cache  Cache
	store  store.JobStore
	logger *slog.Logger
}

// NewListener creates a listener.
func NewListener(c Cache, s store.JobStore, logger *slog.Logger) *Listener {
	return &Listener{
		cache:  c,
		store:  s,
		logger: logger.With("component", "result_cache_listener"),
	}
}

// HandleEvent implements events.Handler. Non-terminal events are ignored.
func (l *Listener) HandleEvent(ctx context.Context, e *events.Event) error {
	if !e.Type.IsTerminal() {
		return nil
	}
	j, err := l.store.Get(ctx, e.JobID)
	if err != nil {
		return fmt.Errorf("load terminal job %s: %w", e.JobID, err)
	}
	if !j.Status.IsTerminal() {
		// The store write happens before publish, so this only occurs
		// for an event from a foreign publisher.
		return fmt.Errorf("job %s is %s after %s: %w", j.ID, j.Status, e.Type, ErrNotTerminal)
	}
	if err := l.cache.Set(ctx, j); err != nil {
		return fmt.Errorf("cache job %s: %w", j.ID, err)
	}
	l.logger.Debug("cached terminal snapshot",
		"job_id", j.ID,
		"status", j.Status)
	return nil
}

// Subscribe opens the listener's feed on the global channel. Call it before
// workers start so no terminal event is missed, then hand the subscription
// to Run.
func (l *Listener) Subscribe(ctx context.Context, bus events.Bus) (events.Subscription, error) {
	sub, err := bus.Subscribe(ctx, events.GlobalChannel)
	if err != nil {
		return nil, fmt.Errorf("subscribe to global channel: %w", err)
	}
	return sub, nil
}

// Run caches terminal snapshots from sub until ctx is done or sub closes.
func (l *Listener) Run(ctx context.Context, sub events.Subscription) {
	l.logger.Info("result cache listener started")
	events.Consume(ctx, sub, l, func(e *events.Event, err error) {
		l.logger.Warn("failed to cache terminal snapshot",
			"job_id", e.JobID,
			"event_type", e.Type,
			"error", err)
	})
	l.logger.Info("result cache listener stopped")
}
