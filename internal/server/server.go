package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Krigsexe/Yggdrasil/internal/auth"
	"github.com/Krigsexe/Yggdrasil/internal/ledger"
	"github.com/Krigsexe/Yggdrasil/internal/pipeline"
	"github.com/Krigsexe/Yggdrasil/internal/ratelimit"
	"github.com/Krigsexe/Yggdrasil/internal/watcher"
)

// Server is the Yggdrasil HTTP server.
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

// Config holds all dependencies and settings for creating a Server.
// Watcher and Limiter are optional; nil disables them.
type Config struct {
	Pipeline *pipeline.Pipeline
	Ledger   *ledger.Ledger
	Watcher  *watcher.Watcher
	JWTMgr   *auth.JWTManager
	Limiter  ratelimit.Limiter
	Logger   *slog.Logger

	APIKey              string
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Pipeline:            cfg.Pipeline,
		Ledger:              cfg.Ledger,
		Watcher:             cfg.Watcher,
		JWTMgr:              cfg.JWTMgr,
		Logger:              cfg.Logger,
		APIKey:              cfg.APIKey,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Query routes limit per user; token issuance limits per IP.
	queryRL := ratelimit.Middleware(cfg.Limiter, userKeyFunc, reqIDFunc, cfg.Logger)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	mux.Handle("POST /yggdrasil/query", queryRL(http.HandlerFunc(h.HandleQuery)))
	mux.Handle("POST /yggdrasil/query/thinking", queryRL(http.HandlerFunc(h.HandleQueryThinking)))
	mux.Handle("POST /yggdrasil/query/stream", queryRL(http.HandlerFunc(h.HandleQueryStream)))

	mux.HandleFunc("GET /yggdrasil/alerts", h.HandleAlerts)
	mux.HandleFunc("GET /yggdrasil/stats", h.HandleStats)
	mux.HandleFunc("POST /yggdrasil/checkpoints", h.HandleCreateCheckpoint)
	mux.HandleFunc("POST /yggdrasil/checkpoints/{id}/rollback", h.HandleRollback)

	// Component health. The POST alias serves API clients; GET serves probes.
	mux.HandleFunc("POST /yggdrasil/health", h.HandleHealth)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID, tracing, logging, auth, recovery, handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
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

// userKeyFunc extracts the authenticated user for rate limiting.
func userKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	return "user:" + claims.UserID
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
