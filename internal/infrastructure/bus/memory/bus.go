package memory

import (
	"context"
	"errors"
	"sync"

	"quotewire/internal/application/port"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Bus is the in-process fan-out layer for single-node runs and tests.
// Delivery matches the redis backend: at-most-once, best-effort, no replay;
// a subscriber with a full buffer loses the message rather than blocking
// the publisher.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}
	closed bool
}

func New() *Bus {
	return &Bus{topics: make(map[string]map[*subscription]struct{})}
}

func (b *Bus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.topics[topic] {
		sub.deliver(port.BusMessage{Topic: topic, Payload: payload})
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topics ...string) (port.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &subscription{
		bus:    b,
		topics: make(map[string]struct{}),
		out:    make(chan port.BusMessage, 256),
	}
	b.mu.Unlock()

	if err := sub.Add(ctx, topics...); err != nil {
		return nil, err
	}
	return sub, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for sub := range subs {
			sub.shutdown()
		}
	}
	b.topics = make(map[string]map[*subscription]struct{})
	return nil
}

type subscription struct {
	bus *Bus

	mu     sync.Mutex
	topics map[string]struct{}
	out    chan port.BusMessage
	closed bool
}

func (s *subscription) Messages() <-chan port.BusMessage { return s.out }

func (s *subscription) Add(_ context.Context, topics ...string) error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.bus.closed {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, t := range topics {
		if s.bus.topics[t] == nil {
			s.bus.topics[t] = make(map[*subscription]struct{})
		}
		s.bus.topics[t][s] = struct{}{}
		s.topics[t] = struct{}{}
	}
	return nil
}

func (s *subscription) Remove(_ context.Context, topics ...string) error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		delete(s.topics, t)
		if subs := s.bus.topics[t]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.bus.topics, t)
			}
		}
	}
	return nil
}

func (s *subscription) Close() error {
	s.bus.mu.Lock()
	s.mu.Lock()
	for t := range s.topics {
		if subs := s.bus.topics[t]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.bus.topics, t)
			}
		}
	}
	s.topics = make(map[string]struct{})
	s.mu.Unlock()
	s.bus.mu.Unlock()

	s.shutdown()
	return nil
}

func (s *subscription) deliver(msg port.BusMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- msg:
	default:
		// slow consumer, message dropped
	}
}

func (s *subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

var _ port.Bus = (*Bus)(nil)
