package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"quotewire/internal/domain"
	busmemory "quotewire/internal/infrastructure/bus/memory"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, b)
}

func (c *fakeConn) received() []envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var e envelope
		if json.Unmarshal(f, &e) == nil {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) countType(typ string) int {
	n := 0
	for _, e := range c.received() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func publishUpdate(t *testing.T, bus *busmemory.Bus, symbol string, price float64) {
	t.Helper()
	payload, err := json.Marshal(domain.PriceUpdate{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
		Source:    "test",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := bus.Publish(context.Background(), domain.Topic(symbol), payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestHubForwardsOnlySubscribedSymbols(t *testing.T) {
	bus := busmemory.New()
	defer bus.Close()

	ctx := context.Background()
	hub, err := NewHub(ctx, bus)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	defer hub.Shutdown()

	btcClient := &fakeConn{id: "c1"}
	ethClient := &fakeConn{id: "c2"}
	hub.Register(btcClient)
	hub.Register(ethClient)

	hub.HandleRequest(ctx, btcClient, Request{Action: ActionSubscribe, Symbols: []string{"BTC/USD"}})
	hub.HandleRequest(ctx, ethClient, Request{Action: ActionSubscribe, Symbols: []string{"ETH/USD"}})

	publishUpdate(t, bus, "BTC/USD", 45000)
	publishUpdate(t, bus, "ETH/USD", 3000)

	waitFor(t, func() bool {
		return btcClient.countType("price_update") == 1 && ethClient.countType("price_update") == 1
	})

	for _, e := range btcClient.received() {
		if e.Type != "price_update" {
			continue
		}
		var u domain.PriceUpdate
		if err := json.Unmarshal(e.Data, &u); err != nil {
			t.Fatalf("unmarshal forwarded update: %v", err)
		}
		if u.Symbol != "BTC/USD" {
			t.Fatalf("client received symbol it never subscribed to: %s", u.Symbol)
		}
	}
}

func TestSubscribeAcksNormalizedSymbols(t *testing.T) {
	bus := busmemory.New()
	defer bus.Close()

	ctx := context.Background()
	hub, err := NewHub(ctx, bus)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	defer hub.Shutdown()

	c := &fakeConn{id: "c1"}
	hub.Register(c)
	hub.HandleRequest(ctx, c, Request{Action: ActionSubscribe, Symbols: []string{"btc/usd", "not a symbol"}})

	acks := c.received()
	if len(acks) != 1 || acks[0].Type != "ack" {
		t.Fatalf("expected single ack, got %+v", acks)
	}
	if len(acks[0].Symbols) != 1 || acks[0].Symbols[0] != "BTC/USD" {
		t.Fatalf("expected normalized BTC/USD in ack, got %v", acks[0].Symbols)
	}

	subs := hub.Subscriptions(c)
	if len(subs) != 1 || subs[0] != "BTC/USD" {
		t.Fatalf("unexpected subscription set: %v", subs)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := busmemory.New()
	defer bus.Close()

	ctx := context.Background()
	hub, err := NewHub(ctx, bus)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	defer hub.Shutdown()

	c := &fakeConn{id: "c1"}
	hub.Register(c)
	hub.HandleRequest(ctx, c, Request{Action: ActionSubscribe, Symbols: []string{"BTC/USD"}})

	publishUpdate(t, bus, "BTC/USD", 1)
	waitFor(t, func() bool { return c.countType("price_update") == 1 })

	hub.HandleRequest(ctx, c, Request{Action: ActionUnsubscribe, Symbols: []string{"BTC/USD"}})

	publishUpdate(t, bus, "BTC/USD", 2)
	time.Sleep(50 * time.Millisecond)
	if got := c.countType("price_update"); got != 1 {
		t.Fatalf("delivery continued after unsubscribe: %d frames", got)
	}
}

func TestUnregisterReleasesSharedTopics(t *testing.T) {
	bus := busmemory.New()
	defer bus.Close()

	ctx := context.Background()
	hub, err := NewHub(ctx, bus)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	defer hub.Shutdown()

	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	hub.Register(a)
	hub.Register(b)
	hub.HandleRequest(ctx, a, Request{Action: ActionSubscribe, Symbols: []string{"BTC/USD"}})
	hub.HandleRequest(ctx, b, Request{Action: ActionSubscribe, Symbols: []string{"BTC/USD"}})

	// first client leaving must not break the second
	hub.Unregister(ctx, a)

	publishUpdate(t, bus, "BTC/USD", 45000)
	waitFor(t, func() bool { return b.countType("price_update") == 1 })

	if got := a.countType("price_update"); got != 0 {
		t.Fatalf("unregistered client still received %d frames", got)
	}

	hub.Unregister(ctx, b)
	if subs := hub.Subscriptions(b); len(subs) != 0 {
		t.Fatalf("unregistered client still holds subscriptions: %v", subs)
	}
}

func TestUnknownActionYieldsError(t *testing.T) {
	bus := busmemory.New()
	defer bus.Close()

	ctx := context.Background()
	hub, err := NewHub(ctx, bus)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	defer hub.Shutdown()

	c := &fakeConn{id: "c1"}
	hub.Register(c)
	hub.HandleRequest(ctx, c, Request{Action: "bogus"})

	frames := c.received()
	if len(frames) != 1 || frames[0].Type != "error" {
		t.Fatalf("expected error frame, got %+v", frames)
	}
}
