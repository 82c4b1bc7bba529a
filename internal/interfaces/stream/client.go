package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one subscriber connection with the usual read/write pump pair.
// The write pump owns the socket for writes and pushes a heartbeat every
// heartbeat interval so dead connections surface quickly.
type Client struct {
	id        string
	conn      *websocket.Conn
	hub       *Hub
	send      chan []byte
	heartbeat time.Duration

	mu     sync.Mutex
	closed bool
}

func NewClient(id string, conn *websocket.Conn, hub *Hub, heartbeat time.Duration) *Client {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Client{
		id:        id,
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, 256),
		heartbeat: heartbeat,
	}
}

func (c *Client) ID() string { return c.id }

// Send queues a frame; a slow client loses frames rather than blocking the
// hub (best-effort delivery). Frames sent after close are dropped, since the
// hub may still be draining buffered bus messages when a client goes away.
func (c *Client) Send(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		log.Debug().Str("client", c.id).Msg("send buffer full, frame dropped")
	}
}

// Start runs both pumps; it returns when the connection dies.
func (c *Client) Start(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(ctx, c)
		c.close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	pongWait := 2 * c.heartbeat
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("client", c.id).Err(err).Msg("client read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.Send(errorMsg("invalid message: " + err.Error()))
			continue
		}
		c.hub.HandleRequest(ctx, c, req)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.heartbeat)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, heartbeatMsg(time.Now().UTC())); err != nil {
				return
			}
			_ = c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
		}
	}
}
