package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/opsgrid/inquest/internal/auth"
	"github.com/opsgrid/inquest/internal/bridge"
	"github.com/opsgrid/inquest/internal/registry"
	"github.com/opsgrid/inquest/internal/storage"
)

// Server is the inquest HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Supervisor, Registry, DB, Verifier, MCPServer.
type ServerConfig struct {
	Supervisor *bridge.Supervisor
	Registry   *registry.Registry
	DB         *storage.DB
	Verifier   *auth.Verifier
	MCPServer  *mcpserver.MCPServer
	Logger     *slog.Logger

	// HTTP server settings.
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Version       string
	MaxInputBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Supervisor: cfg.Supervisor,
		Registry:   cfg.Registry,
		DB:         cfg.DB,
		Logger:     cfg.Logger,
		Version:    cfg.Version,
		MaxBody:    cfg.MaxInputBytes,
	})

	mux := http.NewServeMux()

	// Investigation submission: long-lived SSE response.
	mux.HandleFunc("POST /v1/investigations", h.HandleSubmit)

	// Archive listing.
	mux.HandleFunc("GET /v1/investigations/recent", h.HandleRecent)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Verifier, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
