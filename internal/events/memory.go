package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 256

// MemoryBus is an in-process Bus. Delivery to a subscriber is a
// non-blocking send into its buffer, so a slow subscriber loses events
// instead of stalling the publisher.
type MemoryBus struct {
	logger     *slog.Logger
	bufferSize int

	mu       sync.RWMutex
	channels map[string]map[string]*memorySubscription // channel -> subscriber id -> sub
	closed   bool

	published atomic.Int64
	dropped   atomic.Int64
}

// MemoryBusOption configures a MemoryBus.
type MemoryBusOption func(*MemoryBus)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(size int) MemoryBusOption {
	return func(b *MemoryBus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus(logger *slog.Logger, opts ...MemoryBusOption) *MemoryBus {
	b := &MemoryBus{
		logger:     logger.With("component", "memory_event_bus"),
		bufferSize: DefaultBufferSize,
		channels:   make(map[string]map[string]*memorySubscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements Bus.
func (b *MemoryBus) Publish(_ context.Context, e *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	// Copy targets so sends happen without holding the registry lock.
	var targets []*memorySubscription
	for _, ch := range []string{GlobalChannel, JobChannel(e.JobID)} {
		for _, s := range b.channels[ch] {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if s.send(e) {
			b.published.Add(1)
			continue
		}
		b.dropped.Add(1)
		b.logger.Warn("dropped event for slow subscriber",
			"job_id", e.JobID,
			"event_type", e.Type,
			"channel", s.channel)
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s := &memorySubscription{
		id:      uuid.NewString(),
		channel: channel,
		ch:      make(chan *Event, b.bufferSize),
		bus:     b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[string]*memorySubscription)
		b.channels[channel] = subs
	}
	subs[s.id] = s
	return s, nil
}

// Close implements Bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := b.channels
	b.channels = make(map[string]map[string]*memorySubscription)
	b.mu.Unlock()

	for _, subs := range channels {
		for _, s := range subs {
			s.closeChan()
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscribers on channel.
func (b *MemoryBus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Stats reports delivered and dropped event copies since creation.
func (b *MemoryBus) Stats() (delivered, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

func (b *MemoryBus) remove(s *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.channels[s.channel]
	if !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(b.channels, s.channel)
	}
}

type memorySubscription struct {
	id      string
	channel string
	bus     *MemoryBus

	mu     sync.Mutex
	ch     chan *Event
	closed bool
}

func (s *memorySubscription) C() <-chan *Event { return s.ch }

// Close removes the subscription from the bus. Safe to call multiple times.
func (s *memorySubscription) Close() error {
	s.bus.remove(s)
	s.closeChan()
	return nil
}

// send delivers e without blocking. It reports false if the subscription is
// closed or its buffer is full.
func (s *memorySubscription) send(e *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *memorySubscription) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
