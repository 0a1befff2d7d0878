package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/karlsen/thermwatch/internal/logfields"
	"github.com/karlsen/thermwatch/internal/version"
)

// HTTPServer serves the daemon's observability endpoints: /healthz, /status
// and /metrics.
type HTTPServer struct {
	listen string
	daemon *Daemon
	server *http.Server
}

// NewHTTPServer creates the observability listener for the daemon.
func NewHTTPServer(listen string, d *Daemon) *HTTPServer {
	return &HTTPServer{listen: listen, daemon: d}
}

// Start binds the listener and begins serving. Binding happens up front so a
// taken port fails startup instead of surfacing later in a goroutine log.
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.daemon.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to bind observability listener on %s: %w", s.listen, err)
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Observability server listening", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Observability server failed", logfields.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the listener.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.daemon.PerformHealthChecks(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if health.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(health); err != nil {
		slog.Error("Failed to encode health response", logfields.Error(err))
	}
}

// statusResponse is the /status payload: the supervisor snapshot plus
// process-level metadata.
type statusResponse struct {
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Supervisor any    `json:"supervisor"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version:    version.Version,
		Uptime:     time.Since(s.daemon.startTime).String(),
		Supervisor: s.daemon.Status(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode status response", logfields.Error(err))
	}
}
