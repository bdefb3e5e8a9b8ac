package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"perpagg/internal/metrics"
)

// Server exposes the WebSocket fan-out, a health probe, and the Prometheus
// scrape endpoint on one listener.
type Server struct {
	hub    *Hub
	server *http.Server
	logger *slog.Logger
}

// NewServer wires the hub onto addr (host:port).
func NewServer(addr string, hub *Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/ws", hub.HandleWebSocket)
	mux.Handle("/metrics", metrics.Handler())

	return &Server{
		hub: hub,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "gateway_server"),
	}
}

// Start runs the hub and the HTTP listener. Blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("gateway listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
