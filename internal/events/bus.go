// ABOUTME: In-process publish/subscribe bus routing session-scoped events to subscribers
// ABOUTME: One dispatch loop drains a bounded FIFO queue; publishing never blocks

package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the queue capacity used when none is configured.
const DefaultBufferSize = 256

// ErrSubscriberGone is returned by Subscriber.Deliver when the subscriber can
// no longer receive events. The bus removes it.
var ErrSubscriberGone = errors.New("subscriber gone")

// Subscriber receives events from the bus. Deliver is called from the
// dispatch loop and must not block; any error removes the subscriber.
type Subscriber interface {
	ID() string
	Deliver(env Envelope) error
}

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(env Envelope) bool
}

type subscription struct {
	sub    Subscriber
	filter string
}

// Bus fans envelopes out to subscribers whose session filter is unset or
// equal to the envelope's session id. Events for one session reach its
// subscribers in publish order.
type Bus struct {
	queue chan Envelope
	done  chan struct{}
	once  sync.Once

	mu   sync.RWMutex
	subs map[string]*subscription

	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBus creates a bus with the given queue capacity. Pass nil logger for
// default.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queue:  make(chan Envelope, bufferSize),
		done:   make(chan struct{}),
		subs:   make(map[string]*subscription),
		logger: logger.With("component", "event_bus"),
	}
}

// Publish enqueues env without blocking. When the queue is full the event is
// dropped and Publish returns false.
func (b *Bus) Publish(env Envelope) bool {
	select {
	case <-b.done:
		return false
	default:
	}

	select {
	case b.queue <- env:
		return true
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event",
			"type", env.Type,
			"session_id", env.SessionID,
			"dropped_total", n)
		return false
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe registers sub for events of sessionID, or for every session when
// sessionID is empty. Subscribing again replaces the previous filter.
func (b *Bus) Subscribe(sub Subscriber, sessionID string) {
	b.mu.Lock()
	b.subs[sub.ID()] = &subscription{sub: sub, filter: sessionID}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", sub.ID(), "session_id", sessionID)
}

// Unsubscribe removes sub. Unknown subscribers are ignored.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub.ID()]
	delete(b.subs, sub.ID())
	b.mu.Unlock()

	if ok {
		b.logger.Debug("subscriber removed", "sub_id", sub.ID())
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Run drains the queue until ctx is cancelled or Close is called.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case env := <-b.queue:
			b.dispatch(env)
		}
	}
}

// Close stops the dispatch loop and drops all subscribers. Events still
// queued are discarded.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.done)

		b.mu.Lock()
		clear(b.subs)
		b.mu.Unlock()

		b.logger.Debug("event bus closed")
	})
}

func (b *Bus) dispatch(env Envelope) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter == "" || s.filter == env.SessionID {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := s.sub.Deliver(env); err != nil {
			b.remove(s)
			b.logger.Debug("delivery failed, subscriber removed",
				"sub_id", s.sub.ID(),
				"type", env.Type,
				"error", err)
		}
	}
}

// remove deletes s only if it is still the registered subscription for its
// id, so a concurrent re-subscribe is not undone.
func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[s.sub.ID()]; ok && cur == s {
		delete(b.subs, s.sub.ID())
	}
}
