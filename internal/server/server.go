// Package server provides the HTTP and WebSocket surface of the speech-to-text
// service: the batch transcription endpoint, the streaming endpoint, health
// probes, and the Prometheus metrics scrape.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentiric/stt-service/internal/config"
	"github.com/sentiric/stt-service/internal/engine"
	"github.com/sentiric/stt-service/internal/health"
	"github.com/sentiric/stt-service/internal/observe"
	"github.com/sentiric/stt-service/pkg/audio"
	"github.com/sentiric/stt-service/pkg/provider/vad"
)

// Server owns the HTTP surface. Construct with New, mount with Routes, or
// drive the full lifecycle with Run.
type Server struct {
	cfg        atomic.Pointer[config.Config]
	loader     *engine.Loader
	vadEngine  vad.Engine
	normalizer *audio.Normalizer
	metrics    *observe.Metrics
	health     *health.Handler
}

// New wires the server from its collaborators. All arguments are required
// except healthHandler, which falls back to a bare handler without engine
// status.
func New(cfg *config.Config, loader *engine.Loader, vadEngine vad.Engine, normalizer *audio.Normalizer, metrics *observe.Metrics, healthHandler *health.Handler) *Server {
	if healthHandler == nil {
		healthHandler = health.New(health.BuildInfo{}, nil)
	}
	s := &Server{
		loader:     loader,
		vadEngine:  vadEngine,
		normalizer: normalizer,
		metrics:    metrics,
		health:     healthHandler,
	}
	s.cfg.Store(cfg)
	return s
}

// SwapConfig replaces the active configuration. In-flight requests and open
// streams keep the tuning they started with; new ones pick up cfg.
// Listen address and TLS changes do not take effect until restart.
func (s *Server) SwapConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

func (s *Server) conf() *config.Config {
	return s.cfg.Load()
}

// Routes returns the fully assembled handler. The API endpoints run behind
// the tracing/metrics middleware; health probes and the metrics scrape stay
// outside it so probe traffic does not pollute request telemetry.
func (s *Server) Routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/transcribe", s.handleTranscribe)
	api.HandleFunc("GET /api/v1/transcribe-stream", s.handleTranscribeStream)

	root := http.NewServeMux()
	root.Handle("/api/v1/", observe.Middleware(s.metrics)(api))
	root.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(root)
	return root
}

// Run serves until ctx is cancelled, then shuts down gracefully with a
// 15-second drain window. TLS is used when configured.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.conf().Server.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := s.conf().Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen on %s: %w", s.conf().Server.ListenAddr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

// writeError sends a JSON error body in the shape clients key off:
// {"error": "..."}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseOptionalFloat parses a threshold override from a form value or query
// parameter. Empty means "not provided".
func parseOptionalFloat(raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &v, nil
}
