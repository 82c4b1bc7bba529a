package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quotewire/internal/domain"
)

// fakeAdapter parses frames of the form "SYMBOL:price".
type fakeAdapter struct{}

func (fakeAdapter) Name() string { return "fake" }

func (fakeAdapter) SubscribeMessage(symbols []string) ([]byte, error) {
	return []byte("sub:" + strings.Join(symbols, ",")), nil
}

func (fakeAdapter) ParseMessage(raw []byte) (*domain.PriceUpdate, error) {
	s := string(raw)
	if s == "ignore" {
		return nil, nil
	}
	symbol, priceStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, errors.New("bad frame")
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return nil, err
	}
	return &domain.PriceUpdate{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
		Source:    "fake",
	}, nil
}

func (fakeAdapter) NormalizeSymbol(raw string) string { return raw }

// scriptConn feeds frames from a channel and records writes.
type scriptConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-c.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *scriptConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *scriptConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *scriptConn) SetReadDeadline(time.Time) error           { return nil }
func (c *scriptConn) SetPongHandler(func(string) error)         {}

func (c *scriptConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func waitState(t *testing.T, c *Connector, want domain.ConnectorState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, at %v", want, c.State())
}

func TestConnectorDeliversParsedFramesInOrder(t *testing.T) {
	conn := newScriptConn()
	conn.frames <- []byte("BTC/USD:45000")
	conn.frames <- []byte("garbage")
	conn.frames <- []byte("ignore")
	conn.frames <- []byte("ETH/USD:3000")
	close(conn.frames)

	var dials atomic.Int32
	dial := func(context.Context, string) (Conn, error) {
		if dials.Add(1) == 1 {
			return conn, nil
		}
		return nil, errors.New("dial refused")
	}

	updates := make(chan domain.PriceUpdate, 16)
	c := NewConnector("test", "ws://unused", []string{"BTC/USD", "ETH/USD"}, fakeAdapter{},
		func(u domain.PriceUpdate) { updates <- u },
		Options{Dial: dial, BackoffBase: time.Millisecond, MaxAttempts: 2})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	first := <-updates
	second := <-updates
	if first.Symbol != "BTC/USD" || first.Price != 45000 {
		t.Errorf("unexpected first update: %+v", first)
	}
	if second.Symbol != "ETH/USD" || second.Price != 3000 {
		t.Errorf("unexpected second update: %+v", second)
	}
	if first.ProducerID != "test" {
		t.Errorf("expected producer id from connector, got %q", first.ProducerID)
	}

	// second dial fails and hits the 2-attempt ceiling
	waitState(t, c, domain.StateFailed)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.written) == 0 || string(conn.written[0]) != "sub:BTC/USD,ETH/USD" {
		t.Errorf("expected subscribe payload on open, got %q", conn.written)
	}
}

func TestConnectorDisconnectSuppressesReconnect(t *testing.T) {
	dial := func(context.Context, string) (Conn, error) {
		return nil, errors.New("always down")
	}

	c := NewConnector("test", "ws://unused", []string{"BTC/USD"}, fakeAdapter{},
		func(domain.PriceUpdate) {},
		Options{Dial: dial, BackoffBase: time.Hour, BackoffMax: time.Hour})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, domain.StateReconnecting)

	done := make(chan struct{})
	go func() {
		c.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect did not cancel the pending reconnect timer")
	}
	if got := c.State(); got != domain.StateDisconnected {
		t.Fatalf("expected disconnected, got %v", got)
	}
}

func TestConnectorConnectIsIdempotent(t *testing.T) {
	var dials atomic.Int32
	dial := func(context.Context, string) (Conn, error) {
		dials.Add(1)
		return newScriptConn(), nil
	}

	c := NewConnector("test", "ws://unused", []string{"BTC/USD"}, fakeAdapter{},
		func(domain.PriceUpdate) {},
		Options{Dial: dial})

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, domain.StateConnected)

	for i := 0; i < 3; i++ {
		if err := c.Connect(ctx); err != nil {
			t.Fatalf("repeat connect: %v", err)
		}
	}
	time.Sleep(10 * time.Millisecond)
	if n := dials.Load(); n != 1 {
		t.Fatalf("expected a single dial, got %d", n)
	}
	c.Disconnect()
}

func TestConnectorRestartsAfterFailed(t *testing.T) {
	var dials atomic.Int32
	dial := func(context.Context, string) (Conn, error) {
		dials.Add(1)
		return nil, fmt.Errorf("down")
	}

	c := NewConnector("test", "ws://unused", []string{"BTC/USD"}, fakeAdapter{},
		func(domain.PriceUpdate) {},
		Options{Dial: dial, BackoffBase: time.Millisecond, MaxAttempts: 1})

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, domain.StateFailed)

	// Failed is terminal until connect is called again
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitState(t, c, domain.StateFailed)
	if dials.Load() < 2 {
		t.Fatalf("expected a fresh dial after restart, got %d", dials.Load())
	}
	c.Disconnect()
}
