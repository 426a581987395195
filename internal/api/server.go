// Package api exposes the operator-facing HTTP surface: registry snapshots,
// incident lookups, the escalation dead-letter list, and the
// workflow-failure webhook. Everything except the webhook is read-only.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-ir/internal/config"
)

// Server wraps the HTTP server and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	listener   net.Listener
}

// NewServer constructs an HTTP server bound to the configured address with
// the handler routes registered.
func NewServer(cfg config.ServerConfig, handlers *Handlers) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.Register(router)

	return &Server{
		cfg:      cfg,
		listener: lis,
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	if s.httpServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown attempts a graceful shutdown, falling back to Close on timeout.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
