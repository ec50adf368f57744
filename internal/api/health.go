// =============================================================================
// HEALTH CHECK ENDPOINTS
// =============================================================================
//
//   GET /healthz  - liveness: the process answers requests
//   GET /readyz   - readiness: the server was started and the run store
//                   answers a ping. ?verbose=true adds per-check results.
//
// A `serve` process whose SQLite file was removed or locked by another
// process stays live but turns unready, so a load balancer stops sending it
// traffic without restarting it.
//
// =============================================================================

package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// HEALTH CHECK STATE
// =============================================================================

// HealthState tracks the server's liveness and readiness status.
type HealthState struct {
	ready atomic.Bool
	live  atomic.Bool

	startTime time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// HealthCheck checks one component.
type HealthCheck func(ctx context.Context) HealthCheckResult

// HealthCheckResult contains the result of a health check.
type HealthCheckResult struct {
	Status  string `json:"status"`            // "pass", "warn", "fail"
	Message string `json:"message,omitempty"` // Human-readable message
	Latency string `json:"latency,omitempty"` // Time taken for check
}

// NewHealthState creates a live, not yet ready, health state.
func NewHealthState() *HealthState {
	h := &HealthState{
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
	}
	h.live.Store(true)
	return h
}

// SetReady marks the server as ready to receive traffic.
func (h *HealthState) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetLive marks the server as alive.
func (h *HealthState) SetLive(live bool) {
	h.live.Store(live)
}

// AddCheck registers a named health check run by /readyz.
func (h *HealthState) AddCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// IsReady returns whether the server is ready for traffic.
func (h *HealthState) IsReady() bool {
	return h.ready.Load()
}

// IsLive returns whether the server is alive.
func (h *HealthState) IsLive() bool {
	return h.live.Load()
}

// Uptime returns how long the server has been running.
func (h *HealthState) Uptime() time.Duration {
	return time.Since(h.startTime)
}

// =============================================================================
// HEALTH CHECK HANDLERS
// =============================================================================

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsLive() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "fail",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    s.health.Uptime().String(),
			"message":   "server is not alive",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "pass",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    s.health.Uptime().String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	checks := s.runHealthChecks(r.Context())

	failed := !s.health.IsReady()
	message := ""
	if failed {
		message = "server is not ready"
	}
	for name, result := range checks {
		if result.Status == "fail" {
			failed = true
			message = name + ": " + result.Message
			break
		}
	}

	status := http.StatusOK
	resp := map[string]any{
		"status":    "pass",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    s.health.Uptime().String(),
	}
	if failed {
		status = http.StatusServiceUnavailable
		resp["status"] = "fail"
		resp["message"] = message
	}
	if verbose {
		resp["checks"] = checks
	}
	s.writeJSON(w, status, resp)
}

// runHealthChecks runs the store check and every registered check.
func (s *Server) runHealthChecks(ctx context.Context) map[string]HealthCheckResult {
	results := map[string]HealthCheckResult{
		"store": s.checkStoreHealth(ctx),
	}

	s.health.mu.RLock()
	defer s.health.mu.RUnlock()
	for name, check := range s.health.checks {
		start := time.Now()
		result := check(ctx)
		result.Latency = time.Since(start).String()
		results[name] = result
	}

	return results
}

func (s *Server) checkStoreHealth(ctx context.Context) HealthCheckResult {
	start := time.Now()

	if s.store == nil {
		return HealthCheckResult{
			Status:  "fail",
			Message: "store not initialized",
			Latency: time.Since(start).String(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		return HealthCheckResult{
			Status:  "fail",
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}

	return HealthCheckResult{
		Status:  "pass",
		Latency: time.Since(start).String(),
	}
}

// =============================================================================
// VERSION & INFO ENDPOINT
// =============================================================================

// Version information (set at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
	})
}
