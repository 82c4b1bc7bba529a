package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"quotewire/internal/application/port"
	"quotewire/internal/domain"
)

// Conn is what the hub needs from a subscriber connection; the websocket
// client implements it, tests use a recording fake.
type Conn interface {
	ID() string
	Send(b []byte)
}

// Hub maps client subscription sets onto bus topics. One shared bus
// subscription carries every bridged topic; a topic is bridged while at
// least one local client wants it and released when the last one leaves.
// Leaked topic subscriptions are a correctness bug, so every disconnect path
// funnels through Unregister.
type Hub struct {
	sub port.Subscription

	mu          sync.RWMutex
	subscribers map[string]map[Conn]struct{}
	clientSubs  map[Conn]map[string]struct{}
	refCount    map[string]int
	closed      bool
}

// NewHub opens the shared bus subscription and starts the forwarding loop.
func NewHub(ctx context.Context, bus port.Bus) (*Hub, error) {
	sub, err := bus.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		sub:         sub,
		subscribers: make(map[string]map[Conn]struct{}),
		clientSubs:  make(map[Conn]map[string]struct{}),
		refCount:    make(map[string]int),
	}
	go h.run()
	return h, nil
}

// run forwards bus messages to the clients subscribed to their symbol.
func (h *Hub) run() {
	for msg := range h.sub.Messages() {
		symbol, ok := domain.SymbolFromTopic(msg.Topic)
		if !ok {
			continue
		}
		frame := priceUpdateMsg(msg.Payload)

		h.mu.RLock()
		for c := range h.subscribers[symbol] {
			c.Send(frame)
		}
		h.mu.RUnlock()
	}
}

// Register adds a client with an empty subscription set.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientSubs[c] == nil {
		h.clientSubs[c] = make(map[string]struct{})
	}
}

// HandleRequest applies one subscribe/unsubscribe control message.
func (h *Hub) HandleRequest(ctx context.Context, c Conn, req Request) {
	switch req.Action {
	case ActionSubscribe:
		added := h.subscribe(ctx, c, req.Symbols)
		c.Send(ackMsg(ActionSubscribe, added))
	case ActionUnsubscribe:
		removed := h.unsubscribe(ctx, c, req.Symbols)
		c.Send(ackMsg(ActionUnsubscribe, removed))
	default:
		c.Send(errorMsg("unknown action: " + req.Action))
	}
}

func (h *Hub) subscribe(ctx context.Context, c Conn, symbols []string) []string {
	h.mu.Lock()
	var added []string
	var newTopics []string
	for _, raw := range symbols {
		symbol := domain.NormalizePair(raw)
		if !domain.ValidSymbol(symbol) {
			continue
		}
		if h.clientSubs[c] == nil {
			h.clientSubs[c] = make(map[string]struct{})
		}
		if _, ok := h.clientSubs[c][symbol]; ok {
			continue
		}
		h.clientSubs[c][symbol] = struct{}{}
		if h.subscribers[symbol] == nil {
			h.subscribers[symbol] = make(map[Conn]struct{})
		}
		h.subscribers[symbol][c] = struct{}{}
		h.refCount[symbol]++
		if h.refCount[symbol] == 1 {
			newTopics = append(newTopics, domain.Topic(symbol))
		}
		added = append(added, symbol)
	}
	h.mu.Unlock()

	if len(newTopics) > 0 {
		if err := h.sub.Add(ctx, newTopics...); err != nil {
			log.Error().Err(err).Strs("topics", newTopics).Msg("bridging bus topics failed")
		}
	}
	return added
}

func (h *Hub) unsubscribe(ctx context.Context, c Conn, symbols []string) []string {
	h.mu.Lock()
	var removed []string
	var staleTopics []string
	subs := h.clientSubs[c]
	for _, raw := range symbols {
		symbol := domain.NormalizePair(raw)
		if subs == nil {
			break
		}
		if _, ok := subs[symbol]; !ok {
			continue
		}
		delete(subs, symbol)
		delete(h.subscribers[symbol], c)
		removed = append(removed, symbol)
		if h.dropRefLocked(symbol) {
			staleTopics = append(staleTopics, domain.Topic(symbol))
		}
	}
	h.mu.Unlock()

	h.releaseTopics(ctx, staleTopics)
	return removed
}

// Unregister tears down everything a client holds, releasing bus topics no
// longer needed by any local client.
func (h *Hub) Unregister(ctx context.Context, c Conn) {
	h.mu.Lock()
	var staleTopics []string
	for symbol := range h.clientSubs[c] {
		delete(h.subscribers[symbol], c)
		if h.dropRefLocked(symbol) {
			staleTopics = append(staleTopics, domain.Topic(symbol))
		}
	}
	delete(h.clientSubs, c)
	h.mu.Unlock()

	h.releaseTopics(ctx, staleTopics)
}

// Shutdown releases the shared bus subscription; callers close client
// sockets afterwards.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	if err := h.sub.Close(); err != nil {
		log.Warn().Err(err).Msg("closing bus subscription failed")
	}
}

// dropRefLocked decrements a symbol's ref count and reports whether its
// topic should be released. Caller holds the write lock.
func (h *Hub) dropRefLocked(symbol string) bool {
	h.refCount[symbol]--
	if h.refCount[symbol] > 0 {
		return false
	}
	delete(h.refCount, symbol)
	delete(h.subscribers, symbol)
	return true
}

func (h *Hub) releaseTopics(ctx context.Context, topics []string) {
	if len(topics) == 0 {
		return
	}
	if err := h.sub.Remove(ctx, topics...); err != nil {
		log.Error().Err(err).Strs("topics", topics).Msg("releasing bus topics failed")
	}
}

// Subscriptions reports the symbols a client currently holds; used by tests
// and the status endpoint.
func (h *Hub) Subscriptions(c Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clientSubs[c]))
	for symbol := range h.clientSubs[c] {
		out = append(out, symbol)
	}
	return out
}
