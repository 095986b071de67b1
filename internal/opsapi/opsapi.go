// Package opsapi serves the operational HTTP endpoints of kumbukumbu:
// liveness, readiness and Prometheus metrics. It serves no entity data.
package opsapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kumbukumbu/internal/observability"
)

// Config configures the ops server.
type Config struct {
	ListenAddr   string // e.g., ":9090"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	MetricsRegistry *prometheus.Registry            // nil = no /metrics endpoint.
	MetricsPath     string                          // Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // nil = /readyz always ok.
	Metrics         *observability.MetricsCollector // Request metrics for the middleware.
	Tracer          trace.Tracer                    // Request spans for the middleware.
}

// Server is the ops HTTP server.
type Server struct {
	config Config
	logger *slog.Logger
	okapi  *okapi.Okapi

	mu     sync.Mutex
	server *http.Server
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// New creates an ops server and registers its routes.
func New(cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		config: cfg,
		logger: logger,
		okapi:  okapi.New(),
	}

	if cfg.Metrics != nil || cfg.Tracer != nil {
		s.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(cfg.Metrics, cfg.Tracer, next)
		})
	}

	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if cfg.MetricsRegistry != nil {
		s.okapi.HandleStd("GET", s.MetricsPath(), promhttp.HandlerFor(cfg.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	return s
}

// MetricsPath returns the path the metrics endpoint is served on.
func (s *Server) MetricsPath() string {
	if s.config.MetricsPath == "" {
		return "/metrics"
	}
	return s.config.MetricsPath
}

// Start launches the HTTP server and blocks until it exits.
func (s *Server) Start(ctx context.Context) error {
	readTimeout := s.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("ops server starting", slog.String("addr", s.config.ListenAddr))
	return s.okapi.StartServer(srv)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("ops server stopping")
	return s.okapi.Shutdown(srv)
}

func (s *Server) handleLiveness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: observability.StatusOK})
	}
	return c.OK(s.config.HealthChecker.CheckHealth())
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: observability.StatusOK})
	}

	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != observability.StatusOK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
