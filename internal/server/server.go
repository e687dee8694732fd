package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"batchzip/internal/config"
	"batchzip/internal/handlers"
	"batchzip/internal/metrics"
)

// defaultShutdownTimeout applies when the config leaves ShutdownTimeout unset
const defaultShutdownTimeout = 30 * time.Second

// Drainer waits for background work started by requests
type Drainer interface {
	Drain(ctx context.Context) error
}

// Server wraps the HTTP server
type Server struct {
	logger *zap.Logger
	cfg    *config.Config
	router *mux.Router
	srv    *http.Server
	runs   Drainer
}

// New creates a new server instance
func New(logger *zap.Logger, cfg *config.Config, m *metrics.Metrics, runsHandler *handlers.RunsHandler, healthHandler *handlers.HealthHandler) *Server {
	r := mux.NewRouter()

	// Request ID first so the access log can see it
	r.Use(handlers.RequestIDMiddleware)
	r.Use(handlers.AccessLog(logger))

	// Metrics endpoint with optional basic auth
	metricsHandler := promhttp.Handler()
	if cfg.MetricsUsername != "" && cfg.MetricsPassword != "" {
		authMiddleware := handlers.BasicAuth(cfg.MetricsUsername, cfg.MetricsPassword)
		r.Handle("/metrics", authMiddleware(metricsHandler))
	} else {
		r.Handle("/metrics", metricsHandler)
	}

	// Health endpoint
	r.HandleFunc("/health", healthHandler.Health).Methods("GET")

	// Run endpoints
	r.HandleFunc("/runs", runsHandler.Create).Methods("POST")
	r.HandleFunc("/runs/{id}", runsHandler.Get).Methods("GET")

	return &Server{
		logger: logger,
		cfg:    cfg,
		router: r,
		srv:    &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second},
		runs:   runsHandler,
	}
}

// Handler returns the routed handler chain
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.cfg.EnableHTTPS {
		return s.startHTTPS()
	}
	return s.startHTTP()
}

func (s *Server) startHTTP() error {
	s.srv.Addr = ":" + s.cfg.Port
	s.logger.Info("starting HTTP server", zap.String("addr", s.srv.Addr))

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

func (s *Server) startHTTPS() error {
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(s.cfg.LetsEncryptDomains...),
		Cache:      autocert.DirCache(s.cfg.LetsEncryptCacheDir),
		Email:      s.cfg.LetsEncryptEmail,
	}

	// HTTP server for ACME challenges and redirects
	go func() {
		s.logger.Info("starting HTTP server for challenges/redirects", zap.String("addr", ":80"))
		if err := http.ListenAndServe(":80", m.HTTPHandler(nil)); err != nil {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.srv.Addr = ":443"
	s.srv.TLSConfig = &tls.Config{GetCertificate: m.GetCertificate}
	s.logger.Info("starting HTTPS server", zap.String("addr", s.srv.Addr), zap.Strings("domains", s.cfg.LetsEncryptDomains))

	go func() {
		if err := s.srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("HTTPS server error", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown waits for interrupt signal, stops accepting requests and
// then waits up to ShutdownTimeout for in-flight runs to finish
func (s *Server) WaitForShutdown() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	<-stop

	s.logger.Info("shutting down server...")
	return s.Shutdown()
}

// Shutdown gracefully stops the HTTP server and drains in-flight runs
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), timeout)
	defer drainCancel()

	if err := s.runs.Drain(drainCtx); err != nil {
		s.logger.Warn("runs still in flight at shutdown", zap.Duration("timeout", timeout), zap.Error(err))
	}

	s.logger.Info("server stopped")
	return nil
}
