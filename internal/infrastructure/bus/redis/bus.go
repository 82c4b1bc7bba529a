package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"quotewire/internal/application/port"
)

// Bus maps topics straight onto Redis pub/sub channels. Redis gives exactly
// the at-most-once, no-replay semantics the fan-out layer promises, and lets
// several stream gateway instances share one delivery tier.
type Bus struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.rdb.Publish(ctx, topic, payload).Err()
}

func (b *Bus) Subscribe(ctx context.Context, topics ...string) (port.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topics...)
	// force the subscription onto the wire before first use; with no topics
	// there is no confirmation to wait for, Receive would block forever
	if len(topics) > 0 {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
	}

	sub := &subscription{ps: ps, out: make(chan port.BusMessage, 256)}
	go sub.pump()
	return sub, nil
}

func (b *Bus) Close() error { return b.rdb.Close() }

type subscription struct {
	ps  *redis.PubSub
	out chan port.BusMessage
}

func (s *subscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		s.out <- port.BusMessage{Topic: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *subscription) Messages() <-chan port.BusMessage { return s.out }

func (s *subscription) Add(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	return s.ps.Subscribe(ctx, topics...)
}

func (s *subscription) Remove(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	return s.ps.Unsubscribe(ctx, topics...)
}

func (s *subscription) Close() error { return s.ps.Close() }

var _ port.Bus = (*Bus)(nil)
