package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Server wraps the ingestion gateway's HTTP listener.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, h *Handler) *Server {
	mux := http.NewServeMux()
	h.Routes(mux)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks until the listener stops.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("ingestion gateway listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
