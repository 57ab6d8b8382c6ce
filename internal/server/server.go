// Package server exposes the liveness and readiness probes over HTTP.
//
// /healthz answers as long as the process runs. /readyz fans out to the
// registered checkers (object-store connectivity, metadata-store ping) and
// reports per-check status; any failing check flips the response to 503.
// There is no data-plane surface here: payloads move through presigned links,
// never through this process.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Checker is one readiness probe target.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthResponse is the probe payload.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

const checkTimeout = 5 * time.Second

// Server serves the probe endpoints.
type Server struct {
	host    string
	port    int
	version string
	logger  *zap.Logger
	router  chi.Router

	mu       sync.RWMutex
	checkers map[string]Checker

	httpServer *http.Server
}

// New builds the probe server. Checkers are registered afterwards, before
// Start.
func New(host string, port int, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		host:     host,
		port:     port,
		version:  version,
		logger:   logger,
		checkers: make(map[string]Checker),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	s.router = r
	return s
}

// RegisterChecker adds a named readiness probe target.
func (s *Server) RegisterChecker(name string, c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = c
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("probe server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("probe server: %w", err)
	}
	return nil
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: s.version})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	s.mu.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mu.RUnlock()

	checks := make(map[string]string, len(checkers))
	healthy := true
	for name, c := range checkers {
		if err := c.CheckHealth(ctx); err != nil {
			checks[name] = "unhealthy"
			healthy = false
			s.logger.Warn("readiness check failed",
				zap.String("check", name),
				zap.Error(err))
		} else {
			checks[name] = "healthy"
		}
	}

	resp := HealthResponse{Status: "ready", Version: s.version, Checks: checks}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
