// Package pubsub is the in-process, topic-based event broker that fans
// committed changes out to live subscription streams.
package pubsub

import (
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

const defaultMaxPending = 1024

var (
	// ErrBrokerClosed is returned by Subscribe and Publish after Shutdown,
	// and ends every stream that was open at shutdown.
	ErrBrokerClosed = errors.New("pubsub: broker is closed")
	// ErrStreamClosed ends a stream closed by its owner.
	ErrStreamClosed = errors.New("pubsub: stream closed")
	// ErrSlowConsumer ends a stream whose pending queue overflowed.
	ErrSlowConsumer = errors.New("pubsub: stream dropped, consumer too slow")
)

// Option configures a Broker.
type Option func(*Broker)

// WithMaxPending bounds the number of undelivered events a single stream
// may hold before it is dropped.
func WithMaxPending(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.maxPending = n
		}
	}
}

// Broker is a single-process publish/subscribe hub. Publish hands each event
// to every registered stream's queue before returning, but never waits for
// a consumer. It is safe for concurrent use.
type Broker struct {
	// mu guards the registry; fan-out holds it for the whole iteration so
	// publishes are totally ordered and never race register/deregister.
	mu         sync.Mutex
	topics     map[string]map[*Stream]struct{}
	hooks      []Hook
	closed     bool
	maxPending int
}

// NewBroker creates an empty Broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		topics:     make(map[string]map[*Stream]struct{}),
		maxPending: defaultMaxPending,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new stream for topic. The stream observes every
// event published after Subscribe returns and none published before.
func (b *Broker) Subscribe(topic string) (*Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	s := newStream(b, uuid.New().String(), topic, b.maxPending)
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Stream]struct{})
		b.topics[topic] = subs
	}
	subs[s] = struct{}{}
	return s, nil
}

// Publish delivers payload to every stream currently registered for topic.
// With no subscribers the event is discarded.
func (b *Broker) Publish(topic string, payload any) (Event, error) {
	ev := NewEvent(topic, payload)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Event{}, ErrBrokerClosed
	}

	for s := range b.topics[topic] {
		if !s.deliver(ev) {
			pending := s.Pending()
			b.removeLocked(s)
			s.terminate(ErrSlowConsumer)
			log.Printf("pubsub: dropped slow stream %s on %s (%d pending)", s.ID, topic, pending)
		}
	}

	for _, hook := range b.hooks {
		hook(ev)
	}
	return ev, nil
}

// Close deregisters s and ends it with ErrStreamClosed. Closing an already
// closed stream is a no-op.
func (b *Broker) Close(s *Stream) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.removeLocked(s)
	b.mu.Unlock()

	s.terminate(ErrStreamClosed)
}

// OnPublish registers a hook that observes every published event.
func (b *Broker) OnPublish(hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, hook)
}

// SubscriberCount returns the number of streams registered for topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Shutdown ends every open stream with ErrBrokerClosed and rejects further
// Subscribe and Publish calls. It is idempotent.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	n := 0
	for _, subs := range b.topics {
		for s := range subs {
			s.terminate(ErrBrokerClosed)
			n++
		}
	}
	b.topics = make(map[string]map[*Stream]struct{})
	log.Printf("pubsub: broker shut down, closed %d streams", n)
}

func (b *Broker) removeLocked(s *Stream) {
	subs, ok := b.topics[s.Topic]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.topics, s.Topic)
	}
}
