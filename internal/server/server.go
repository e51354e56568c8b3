// Package server is the HTTP boundary: a thin translator between the external
// JSON surface and the session manager.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/boifi/recommender/internal/metrics"
	"github.com/boifi/recommender/internal/session"
)

// HealthProber reports whether the executor answers its health endpoint.
type HealthProber interface {
	Health(ctx context.Context) bool
}

// Config holds server configuration.
type Config struct {
	Addr string // listen address, e.g. ":8000"
}

// Server is the HTTP server for the recommender API.
type Server struct {
	config  Config
	manager *session.Manager
	probe   HealthProber
	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
	logger  *zap.Logger
}

// New wires the API routes over an already-constructed manager.
func New(cfg Config, mgr *session.Manager, probe HealthProber, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		manager: mgr,
		probe:   probe,
		baseCtx: ctx,
		cancel:  cancel,
		logger:  logger,
	}

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("POST /v1/optimization/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/optimization/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /v1/optimization/sessions/{id}/stop", s.handleStopSession)
	mux.HandleFunc("DELETE /v1/optimization/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	if m != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Info("shutting down", zap.String("signal", sig.String()))
		s.Shutdown()
	}()

	s.logger.Info("listening", zap.String("addr", s.config.Addr))
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains HTTP connections and asks the workers to stop at their next
// iteration boundary.
func (s *Server) Shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	if err := s.manager.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("workers did not stop in time", zap.Error(err))
	}
	s.cancel()
}
