package pubsub

import (
	"context"
	"sync"
)

// Stream is one subscriber's live view of a topic. It only sees events
// published after Subscribe returned, in publish order.
type Stream struct {
	ID    string
	Topic string

	broker     *Broker
	maxPending int

	mu      sync.Mutex
	pending []Event
	closed  bool
	err     error
	wake    chan struct{}
	done    chan struct{}
}

func newStream(b *Broker, id, topic string, maxPending int) *Stream {
	return &Stream{
		ID:         id,
		Topic:      topic,
		broker:     b,
		maxPending: maxPending,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Next blocks until the next event is available, the stream is closed, or
// ctx is done. Once the stream is closed Next only returns the termination
// error; events still queued at that point are discarded.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			err := s.err
			s.mu.Unlock()
			return Event{}, err
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending[0] = Event{}
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.done:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close deregisters the stream from its broker. Safe to call more than once.
func (s *Stream) Close() {
	s.broker.Close(s)
}

// Done is closed once the stream has terminated.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream terminated, or nil while it is open.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending returns the number of queued, undelivered events.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// deliver queues ev without blocking. It returns false when the queue is
// full and the stream has to be dropped.
func (s *Stream) deliver(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	if len(s.pending) >= s.maxPending {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// terminate marks the stream closed with err and wakes any waiting
// consumer. Only the first call has an effect.
func (s *Stream) terminate(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = err
	s.pending = nil
	close(s.done)
	return true
}
