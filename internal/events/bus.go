package events

import (
	"context"
	"errors"
)

// GlobalChannel carries the events of every job.
const GlobalChannel = "jobs"

// JobChannel returns the channel carrying the events of one job.
func JobChannel(jobID string) string { return "job:" + jobID }

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus closed")

// Bus is a publish/subscribe broadcaster of lifecycle events.
type Bus interface {
	// Publish writes e to the global channel and to e's job channel. It does
	// not wait for subscribers.
	Publish(ctx context.Context, e *Event) error

	// Subscribe returns a live feed of every event published on channel
	// after Subscribe returns.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close releases the bus. Open subscriptions are closed.
	Close() error
}

// Subscription is one subscriber's feed. The channel is closed when the
// subscription or the bus is closed.
type Subscription interface {
	C() <-chan *Event
	Close() error
}

// Handler processes events delivered by Consume.
type Handler interface {
	HandleEvent(ctx context.Context, e *Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e *Event) error

// HandleEvent calls f(ctx, e).
func (f HandlerFunc) HandleEvent(ctx context.Context, e *Event) error {
	return f(ctx, e)
}

// Consume feeds every event from sub to h until ctx is done or the
// subscription closes. Handler errors are passed to onErr and do not stop
// consumption.
func Consume(ctx context.Context, sub Subscription, h Handler, onErr func(*Event, error)) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if err := h.HandleEvent(ctx, e); err != nil && onErr != nil {
				onErr(e, err)
			}
		}
	}
}
