// Package admin exposes the local observability surface: the session
// snapshot, a health probe and prometheus metrics over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mindfly/brainpilot/internal/session"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// WithLogger sets the logger for the admin server.
func WithLogger(logger *slog.Logger) func(s *Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "admin"))
	}
}

// Server serves the read-only admin endpoints. It never mutates session
// state.
type Server struct {
	pub    *session.Publisher
	logger *slog.Logger
	http   *http.Server
}

// New creates an admin server over the snapshot publisher and metrics
// registry, listening on addr.
func New(addr string, pub *session.Publisher, reg *prometheus.Registry, options ...func(s *Server)) *Server {
	s := Server{
		pub:    pub,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return &s
}

// Run serves until the context is cancelled, then drains in-flight
// requests within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
			return
		}
		errc <- nil
	}()

	s.logger.Info("admin server listening", slog.String("addr", s.http.Addr))

	select {
	case err := <-errc:
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutting down admin server: %w", err)
	}
	return <-errc
}

// Handler returns the admin mux for embedding and tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.pub.Current()); err != nil {
		s.logger.Error(fmt.Sprintf("encoding status: %s", err.Error()))
	}
}

// handleHealthz reports ready only while the session can carry traffic.
// Degraded still answers 200: the session is alive and recovering.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.pub.Current()

	w.Header().Set("Content-Type", "application/json")
	switch snap.State {
	case session.StateActive, session.StateDegraded:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"state": snap.State.String()})
}
