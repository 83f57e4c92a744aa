package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/okx-data/internal/config"
)

// Health is the body served on /health.
type Health struct {
	Status       string           `json:"status"` // "ok" or "degraded"
	Instance     string           `json:"instance"`
	Version      string           `json:"version"`
	SessionState string           `json:"session_state"`
	Uptime       string           `json:"uptime"`
	Books        map[string]int   `json:"books,omitempty"`  // book state name -> count
	Tables       map[string]Table `json:"tables,omitempty"` // per-table writer status
}

// Table is the writer status of one destination table.
type Table struct {
	Buffered      int   `json:"buffered"`
	Pending       int   `json:"pending"`
	Inserted      int64 `json:"inserted"`
	Backpressured bool  `json:"backpressured"`
	Failed        bool  `json:"failed"`
}

// HealthFunc reports current health. Healthy reports whether /health
// answers 200 rather than 503.
type HealthFunc func() (h Health, healthy bool)

// Server serves /metrics and /health.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates the HTTP server for metrics and health.
func NewServer(cfg config.MetricsConfig, gatherer prometheus.Gatherer, health HealthFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler(health))

	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "metrics_server"),
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("metrics server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h, healthy := health()
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	}
}
