// Package api implements the HTTP API: agent runs (blocking, SSE and
// WebSocket), direct page fetches, cache administration, health and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nugget/whim-agent/internal/agent"
	"github.com/nugget/whim-agent/internal/buildinfo"
	"github.com/nugget/whim-agent/internal/fetch"
	"github.com/nugget/whim-agent/internal/llm"
	"github.com/nugget/whim-agent/internal/metrics"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Runner executes agent runs. *agent.Loop implements it.
type Runner interface {
	Run(ctx context.Context, cfg agent.Config, in agent.Input) (*agent.Output, error)
	Stream(ctx context.Context, cfg agent.Config, in agent.Input) <-chan agent.Event
}

// Pinger checks a dependency for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	runner   Runner
	defaults agent.Config
	chain    *fetch.Chain
	pinger   Pinger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server

	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewServer creates a new API server.
func NewServer(address string, port int, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		runner:   runner,
		defaults: agent.DefaultConfig(),
		logger:   logger.With("component", "api"),

		pongWait:   wsPongWait,
		pingPeriod: wsPingPeriod,
	}
}

// SetDefaults sets the run configuration requests start from.
func (s *Server) SetDefaults(cfg agent.Config) { s.defaults = cfg }

// SetFetchChain enables the fetch and cache endpoints.
func (s *Server) SetFetchChain(c *fetch.Chain) { s.chain = c }

// SetHealthCheck makes /health report the model provider's status.
func (s *Server) SetHealthCheck(p Pinger) { s.pinger = p }

// SetMetrics enables /metrics.
func (s *Server) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/v1/version", s.handleVersion)

	r.Route("/v1/agent", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Post("/stream", s.handleStream)
		r.Get("/ws", s.handleWebSocket)
	})

	r.Post("/v1/fetch", s.handleFetch)
	r.Get("/v1/cache", s.handleCacheStats)
	r.Delete("/v1/cache", s.handleCacheClear)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// Start begins serving HTTP requests and blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.address, strconv.Itoa(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second, // streaming handlers extend their own deadline
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Whim",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]string{"status": "degraded", "error": err.Error()}, s.logger)
			return
		}
	}
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	errType := "invalid_request_error"
	switch {
	case code == http.StatusBadGateway:
		errType = "upstream_error"
	case code >= 500:
		errType = "server_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	}, s.logger)
}

// runErrorStatus maps a failed run to an HTTP status.
func runErrorStatus(err error) int {
	switch {
	case llm.IsUpstream(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	}
	return http.StatusInternalServerError
}
