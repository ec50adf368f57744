// =============================================================================
// HTTP API SERVER - READ-ONLY VIEW OVER STORED BENCH RUNS
// =============================================================================
//
// WHAT IS THIS?
// `telegraph-bench serve` exposes the run store over HTTP so results can be
// browsed, scraped by Prometheus, or pulled by `telegraph-bench runs --server`
// from another machine.
//
// WHY CHI ROUTER?
//   Chi is stdlib net/http compatible, supports URL parameters
//   (/runs/{runID}) and composes middleware without a framework.
//
// ENDPOINT OVERVIEW:
//
//   RUNS
//   GET    /runs?limit=N         List runs, newest first
//   GET    /runs/{runID}         Run header + lateness report
//   DELETE /runs/{runID}         Delete a run and its samples
//
//   BATCHES
//   GET    /batches/{batchID}    Side-by-side comparison of one invocation
//
//   ADMIN
//   GET    /healthz              Liveness
//   GET    /readyz               Readiness (store reachable)
//   GET    /version              Build information
//   GET    /metrics              Prometheus scrape endpoint
//
// Reports are not stored: they are recomputed from the samples on every
// request, so a change to the outlier filter applies to old runs too.
//
// =============================================================================

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/bench"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/report"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/store"
)

// =============================================================================
// API SERVER
// =============================================================================

// RunStore is the subset of *store.Store the API reads from.
type RunStore interface {
	Ping(ctx context.Context) error
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	BatchRuns(ctx context.Context, batchID string) ([]store.Run, error)
	Result(ctx context.Context, runID string) (*bench.Result, error)
	DeleteRun(ctx context.Context, id string) error
}

// Server is the HTTP API server.
type Server struct {
	store      RunStore
	metrics    *metrics.Registry
	health     *HealthState
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics, if set, is served on /metrics and records HTTP metrics.
	Metrics *metrics.Registry
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new API server over st.
func NewServer(st RunStore, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	s := &Server{
		store:   st,
		metrics: config.Metrics,
		health:  NewHealthState(),
		router:  r,
		logger:  logger.With("component", "api"),
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health returns the server's health state.
func (s *Server) Health() *HealthState {
	return s.health
}

// registerRoutes sets up all API endpoints using chi router.
func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/version", s.handleVersion)

	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)

		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Delete("/", s.deleteRun)
		})
	})

	s.router.Get("/batches/{batchID}", s.getBatch)
}

// loggingMiddleware logs every request and records HTTP metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		elapsed := time.Since(start)

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.HTTP.ObserveRequest(r.Method, route, wrapped.status, elapsed)
		}

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", elapsed.String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	s.logger.Info("starting HTTP API server", "addr", s.httpServer.Addr)
	s.health.SetReady(true)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
			s.health.SetLive(false)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	s.health.SetReady(false)
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// RunDetailResponse is the body of GET /runs/{runID}.
type RunDetailResponse struct {
	Run    store.Run         `json:"run"`
	Report report.Comparison `json:"report"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	result, err := s.store.Result(r.Context(), runID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, RunDetailResponse{
		Run:    *run,
		Report: report.Compare([]*bench.Result{result})[0],
	})
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.store.DeleteRun(r.Context(), runID); err != nil {
		s.storeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"run":     runID,
	})
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	runs, err := s.store.BatchRuns(r.Context(), batchID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if len(runs) == 0 {
		s.errorResponse(w, http.StatusNotFound, "batch not found: "+batchID)
		return
	}

	results := make([]*bench.Result, 0, len(runs))
	for _, run := range runs {
		res, err := s.store.Result(r.Context(), run.ID)
		if err != nil {
			s.storeError(w, err)
			return
		}
		results = append(results, res)
	}

	s.writeJSON(w, http.StatusOK, report.Compare(results))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

// storeError maps store errors onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrRunNotFound) {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("store error", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "internal error")
}
