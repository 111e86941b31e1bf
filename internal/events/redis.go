package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every pub/sub channel this package uses.
const keyPrefix = "jobstream:"

// RedisBus is a Bus over Redis pub/sub, so that events published by a
// worker in one process reach stream subscribers in another. The caller
// owns the Redis client lifecycle.
type RedisBus struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	bufferSize int

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// NewRedisBus creates a bus on client.
func NewRedisBus(client redis.UniversalClient, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		client:     client,
		logger:     logger.With("component", "redis_event_bus"),
		bufferSize: DefaultBufferSize,
		subs:       make(map[*redisSubscription]struct{}),
	}
}

// Publish implements Bus. Both channels are written in one pipeline.
func (b *RedisBus) Publish(ctx context.Context, e *Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.Publish(ctx, keyPrefix+GlobalChannel, data)
	pipe.Publish(ctx, keyPrefix+JobChannel(e.JobID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe implements Bus. It returns only after Redis has confirmed the
// subscription, so no event published afterwards can be missed.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, keyPrefix+channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &redisSubscription{
		bus:     b,
		channel: channel,
		ps:      ps,
		ch:      make(chan *Event, b.bufferSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, ErrBusClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s, nil
}

// Close implements Bus. The Redis client itself is left open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*redisSubscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		_ = s.Close()
	}
	return nil
}

type redisSubscription struct {
	bus     *RedisBus
	channel string
	ps      *redis.PubSub
	ch      chan *Event

	once sync.Once
	done chan struct{}
}

func (s *redisSubscription) C() <-chan *Event { return s.ch }

// Close unsubscribes and stops delivery. Safe to call multiple times.
func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return err
}

// pump decodes messages into the subscriber buffer, dropping when full.
func (s *redisSubscription) pump() {
	defer close(s.ch)
	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				s.bus.logger.Warn("discarding malformed event",
					"channel", s.channel,
					"error", err)
				continue
			}
			select {
			case s.ch <- &e:
			default:
				s.bus.logger.Warn("dropped event for slow subscriber",
					"job_id", e.JobID,
					"event_type", e.Type,
					"channel", s.channel)
			}
		}
	}
}
