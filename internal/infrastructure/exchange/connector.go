package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quotewire/internal/domain"
)

// Conn is the slice of *websocket.Conn the connector needs; tests substitute
// a scripted implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Dialer opens one upstream socket.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Handler receives every canonical update in upstream-arrival order.
type Handler func(update domain.PriceUpdate)

// Options tunes one connector instance.
type Options struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxAttempts int // consecutive failures before Failed; 0 means unbounded
	DialTimeout time.Duration
	ReadTimeout time.Duration
	PingPeriod  time.Duration
	Dial        Dialer
}

func (o *Options) applyDefaults() {
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 25 * time.Second
	}
	if o.Dial == nil {
		o.Dial = func(ctx context.Context, url string) (Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		}
	}
}

// Connector owns one upstream streaming connection and its reconnect loop.
// State transitions are explicit: Disconnected -> Connecting -> Connected ->
// Reconnecting -> Connecting, with Reconnecting -> Failed once the attempt
// ceiling is hit.
type Connector struct {
	name    string
	wsURL   string
	symbols []string
	adapter Adapter
	handler Handler
	opts    Options

	mu          sync.Mutex
	state       domain.ConnectorState
	intentional bool
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewConnector binds one upstream URL to one adapter variant. symbols are
// canonical BASE/QUOTE pairs; the adapter translates to its native notation.
func NewConnector(name, wsURL string, symbols []string, adapter Adapter, handler Handler, opts Options) *Connector {
	opts.applyDefaults()
	return &Connector{
		name:    name,
		wsURL:   wsURL,
		symbols: symbols,
		adapter: adapter,
		handler: handler,
		opts:    opts,
		state:   domain.StateDisconnected,
	}
}

// State reports the current connector state.
func (c *Connector) State() domain.ConnectorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) setState(s domain.ConnectorState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connector) isIntentional() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intentional
}

// Connect starts the connection loop. It is idempotent: a no-op while a loop
// is already running (Connecting/Connected/Reconnecting). After Failed or
// Disconnect it starts fresh.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.intentional = false
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = domain.StateConnecting
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
	return nil
}

// Disconnect sets the intentional-close flag, cancels any pending reconnect
// timer, and waits for the loop to stop.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.setState(domain.StateDisconnected)
}

func (c *Connector) stop(final domain.ConnectorState) {
	c.mu.Lock()
	c.state = final
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
}

func (c *Connector) run(ctx context.Context) {
	attempt := 0
	for {
		c.setState(domain.StateConnecting)
		log.Debug().Str("connector", c.name).Msg("ws connecting")

		dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		conn, err := c.opts.Dial(dctx, c.wsURL)
		cancel()

		if err == nil {
			err = c.session(ctx, conn, &attempt)
		}

		if ctx.Err() != nil || c.isIntentional() {
			c.stop(domain.StateDisconnected)
			return
		}

		attempt++
		if c.opts.MaxAttempts > 0 && attempt >= c.opts.MaxAttempts {
			log.Error().Str("connector", c.name).Err(err).
				Int("attempts", attempt).
				Msg("reconnect ceiling reached, giving up")
			c.stop(domain.StateFailed)
			return
		}

		c.setState(domain.StateReconnecting)
		delay := backoffDelay(attempt, c.opts.BackoffBase, c.opts.BackoffMax)
		log.Warn().Str("connector", c.name).Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("ws disconnected, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.stop(domain.StateDisconnected)
			return
		case <-timer.C:
		}
	}
}

// session subscribes and pumps frames until the socket dies. The attempt
// counter resets once the subscription is on the wire.
func (c *Connector) session(ctx context.Context, conn Conn, attempt *int) error {
	defer conn.Close()

	sub, err := c.adapter.SubscribeMessage(c.symbols)
	if err != nil {
		return err
	}
	if sub != nil {
		if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
			return err
		}
	}

	c.setState(domain.StateConnected)
	*attempt = 0
	log.Info().Str("connector", c.name).Msg("ws connected")

	return c.readLoop(ctx, conn)
}

func (c *Connector) readLoop(ctx context.Context, conn Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(c.opts.PingPeriod)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
			c.onMessage(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

// onMessage parses one frame; unparseable or non-positive-price frames are
// dropped at debug level.
func (c *Connector) onMessage(raw []byte) {
	u, err := c.adapter.ParseMessage(raw)
	if err != nil {
		log.Debug().Str("connector", c.name).Err(err).Msg("dropping unparseable frame")
		return
	}
	if u == nil {
		return
	}
	if u.Price <= 0 {
		log.Debug().Str("connector", c.name).Str("symbol", u.Symbol).Msg("dropping non-positive price")
		return
	}
	if u.ProducerID == "" {
		u.ProducerID = c.name
	}
	c.handler(*u)
}
