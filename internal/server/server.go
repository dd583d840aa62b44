package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"jordanella.com/pogo-fleet/internal/logging"
)

// Server runs the status HTTP endpoint in the background
type Server struct {
	server *http.Server
	logger  *logging.Logger
	done    chan error
	started bool
}

// New creates a server listening on addr
func New(addr string, handler http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logging.NewLogger("StatusServer"),
		done:   make(chan error, 1),
	}
}

// Start serves in a goroutine. Listen errors other than a clean shutdown
// are returned by Shutdown.
func (s *Server) Start() {
	s.started = true
	s.logger.InfoWithContext("Status server listening", map[string]interface{}{"addr": s.server.Addr})
	go func() {
		err := s.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("Status server failed", err)
		}
		s.done <- err
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	if !s.started {
		return nil
	}
	select {
	case err := <-s.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
