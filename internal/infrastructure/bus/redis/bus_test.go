package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"quotewire/internal/application/port"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	srv := miniredis.RunT(t)
	b := New(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// recvRetry publishes until the subscription yields a message, covering the
// window between SUBSCRIBE hitting the server and delivery starting.
func recvRetry(t *testing.T, b *Bus, sub port.Subscription, topic string, payload []byte) port.BusMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := b.Publish(context.Background(), topic, payload); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case msg := <-sub.Messages():
			return msg
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("message never delivered")
	return port.BusMessage{}
}

func TestSubscribeWithNoTopicsReturnsPromptly(t *testing.T) {
	b := newTestBus(t)

	subCh := make(chan port.Subscription, 1)
	errCh := make(chan error, 1)
	go func() {
		sub, err := b.Subscribe(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		subCh <- sub
	}()

	select {
	case sub := <-subCh:
		_ = sub.Close()
	case err := <-errCh:
		t.Fatalf("subscribe: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("empty subscribe blocked waiting for a confirmation that never comes")
	}
}

func TestAddTopicAfterEmptySubscribe(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := sub.Add(ctx, "price_updates:BTC/USD"); err != nil {
		t.Fatalf("add: %v", err)
	}

	msg := recvRetry(t, b, sub, "price_updates:BTC/USD", []byte("x"))
	if msg.Topic != "price_updates:BTC/USD" || string(msg.Payload) != "x" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSubscribeWithInitialTopics(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "price_updates:ETH/USD")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	msg := recvRetry(t, b, sub, "price_updates:ETH/USD", []byte("y"))
	if string(msg.Payload) != "y" {
		t.Fatalf("unexpected payload: %s", msg.Payload)
	}

	if err := sub.Remove(ctx, "price_updates:ETH/USD"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
