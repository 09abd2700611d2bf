// Package server exposes the online models over HTTP: learn, predict and
// score endpoints per model, running metrics, snapshot management, and a
// websocket stream of metric updates.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config sizes the HTTP server itself.
type Config struct {
	Port           int
	Timeout        time.Duration
	MaxRequestSize int64
	PushInterval   func() time.Duration
	Tunables       func() Tunables
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1 << 20
	}
	if c.PushInterval == nil {
		c.PushInterval = func() time.Duration { return 5 * time.Second }
	}
	if c.Tunables == nil {
		c.Tunables = func() Tunables { return Tunables{AnomalyThreshold: 1.0} }
	}
}

// Server ties the service, hub and middleware to an http.Server.
type Server struct {
	server *http.Server
	hub    *Hub
	log    *zap.Logger
}

// New builds the server. Call Start to serve and Stop to shut down.
func New(cfg Config, svc *Service, log *zap.Logger) *Server {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	hub := NewHub(log)
	h := &handlers{svc: svc, hub: hub, log: log, tunables: cfg.Tunables}

	mux := http.NewServeMux()
	h.register(mux)

	chain := Chain(
		RecoveryMiddleware(log),
		LoggerMiddleware(log),
		RequestSizeMiddleware(cfg.MaxRequestSize),
	)

	srv := &Server{
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     chain(mux),
			ReadTimeout: cfg.Timeout,
			IdleTimeout: 120 * time.Second,
		},
		hub: hub,
		log: log,
	}

	go hub.Run()
	go pushMetrics(hub, svc, cfg.PushInterval)
	return srv
}

// Start blocks serving requests until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and closes the websocket hub.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.hub.Stop()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }
