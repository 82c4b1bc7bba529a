package port

import "context"

// BusMessage is one published payload with the topic it arrived on.
type BusMessage struct {
	Topic   string
	Payload []byte
}

// Bus is the topic-based fan-out layer. Delivery is at-most-once and
// best-effort: a subscriber attached after Publish never sees that message.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe opens one consumer stream covering topics; the set can be
	// grown and shrunk afterwards through the Subscription.
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)

	Close() error
}

// Subscription is one consumer's view of the bus.
type Subscription interface {
	// Messages yields published payloads for the subscribed topics until
	// Close.
	Messages() <-chan BusMessage
	Add(ctx context.Context, topics ...string) error
	Remove(ctx context.Context, topics ...string) error
	Close() error
}
