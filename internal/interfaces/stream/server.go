package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// AuthFunc admits or rejects an upgrade request before any socket exists.
type AuthFunc func(r *http.Request) error

// Server owns the subscriber-facing websocket listener.
type Server struct {
	srv       *http.Server
	hub       *Hub
	auth      AuthFunc
	heartbeat time.Duration

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewServer(addr string, hub *Hub, auth AuthFunc, heartbeat time.Duration) *Server {
	s := &Server{
		hub:       hub,
		auth:      auth,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", s.handleStream)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.auth != nil {
		if err := s.auth(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := fmt.Sprintf("%s#%d", r.RemoteAddr, s.nextID.Add(1))
	client := NewClient(id, conn, s.hub, s.heartbeat)

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	s.hub.Register(client)
	log.Info().Str("client", id).Msg("stream client connected")

	client.Start(r.Context())

	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
	log.Info().Str("client", id).Msg("stream client disconnected")
}

// Start blocks until the listener stops.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("stream gateway listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown releases all bus subscriptions first, then closes client sockets
// and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()

	s.mu.Lock()
	for client := range s.clients {
		client.close()
		_ = client.conn.Close()
	}
	s.clients = make(map[*Client]struct{})
	s.mu.Unlock()

	return s.srv.Shutdown(ctx)
}
