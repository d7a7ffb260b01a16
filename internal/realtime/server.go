package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server hosts the hub on its own listener.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer binds the hub handler to addr.
func NewServer(addr string, hub *Hub, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(Path, hub.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// hijacked websocket connections are not tracked by http.Server
	srv.RegisterOnShutdown(hub.closeAll)
	return &Server{srv: srv, logger: logger}
}

// Start serves in the background. Listener errors are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting realtime hub", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("realtime hub stopped", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting connections and closes open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
