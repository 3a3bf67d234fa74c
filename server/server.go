// Package server implements the Cairn HTTP server: REST API, auth, SSE
// events, Prometheus metrics and the MCP endpoint.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/cairn/config"
	"github.com/GoCodeAlone/cairn/internal/metrics"
	"github.com/GoCodeAlone/cairn/server/api"
	"github.com/GoCodeAlone/cairn/server/events"
)

// Server is the Cairn HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	svc      api.Service
	hub      *events.Hub
	metrics  *metrics.Metrics
	mcp      http.Handler
	handlers *api.Handlers

	routesOnce sync.Once

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
}

// SetService attaches the task service backing the REST API.
func (s *Server) SetService(svc api.Service) {
	s.svc = svc
}

// SetHub attaches the SSE event hub.
func (s *Server) SetHub(hub *events.Hub) {
	s.hub = hub
}

// SetMetrics attaches the Prometheus metrics set. Requests are instrumented
// and /metrics is served only when one is attached.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetMCPHandler mounts an MCP streamable HTTP handler at the configured
// path, behind the same auth as the REST API.
func (s *Server) SetMCPHandler(h http.Handler) {
	s.mcp = h
}

// Handler returns the fully wired root handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	if s.metrics != nil {
		return s.metrics.Middleware(s.mux)
	}
	return s.mux
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	timeout := s.cfg.Server.ReadHeaderTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: timeout,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Service: s.svc,
		Logger:  s.logger,
		Version: s.version,
		StartAt: s.startTime.Unix(),
	}
	s.handlers = h

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// SSE: auth handled inline because EventSource can't set headers
	if s.hub != nil {
		s.mux.HandleFunc("GET /events", s.handleSSE)
	}

	if s.mcp != nil && s.cfg.MCP.Enabled {
		path := s.cfg.MCP.Path
		if path == "" {
			path = "/mcp"
		}
		s.mux.Handle(path, s.authMiddleware(s.mcp))
	}

	// Protected API, wrapped in auth middleware
	apiMux := http.NewServeMux()
	if s.svc != nil {
		h.RegisterRoutes(apiMux)
	}
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSSE verifies the query token and hands the connection to the hub.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if _, err := s.verifyToken(token); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.hub.ServeSSE(w, r)
}
