// =============================================================================
// OBSERVABILITY WITH PROMETHEUS - CORE METRICS INFRASTRUCTURE
// =============================================================================
//
// WHAT DO WE MEASURE?
// The whole point of running two dispatch engines side by side is to compare
// how late they deliver. Logs answer "what happened", metrics answer "how many
// and how late":
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │                       TELEGRAPH ENGINE METRICS                          │
//   │                                                                         │
//   │   dispatches_total            how often DispatchMessage ran             │
//   │   deliveries_total            immediate vs delayed vs direct            │
//   │   pending_deliveries          queued work not yet delivered             │
//   │   update_duration_seconds     cost of one Update() tick                 │
//   │   delivery_lateness_seconds   actual - requested delay                  │
//   │                                                                         │
//   │   store_*                     run store calls, retries, samples         │
//   │   http_*                      results API requests                      │
//   └─────────────────────────────────────────────────────────────────────────┘
//
// NAMING CONVENTIONS:
//
//   {namespace}_{subsystem}_{name}_{unit}
//
//   - telegraph_engine_dispatches_total
//   - telegraph_engine_delivery_lateness_seconds
//
// LABELS:
// engine (eventqueue, mailbox), tag, mode. All bounded: a benchmark has a
// handful of tags, never one per message.
//
// =============================================================================

package metrics

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds metrics configuration.
type Config struct {
	// Enabled turns metrics collection on/off
	Enabled bool

	// Namespace prefixes every telegraph metric (default: "telegraph")
	Namespace string

	// IncludeGoCollector adds Go runtime metrics (goroutines, GC, memory)
	IncludeGoCollector bool

	// IncludeProcessCollector adds process metrics (CPU, memory, fds)
	IncludeProcessCollector bool

	// UpdateBuckets bound the Update() duration histogram, in seconds
	UpdateBuckets []float64

	// LatenessBuckets bound the delivery lateness histogram, in seconds.
	// A good engine is late by microseconds, so these start far lower.
	LatenessBuckets []float64
}

// DefaultConfig returns the configuration the CLI uses.
//
//	update:   1µs 5µs 10µs 50µs 100µs 500µs 1ms 5ms 10ms 50ms
//	lateness: 10µs 50µs 100µs 250µs 500µs 1ms 2.5ms 5ms 10ms 50ms 100ms 1s
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		Namespace:               "telegraph",
		IncludeGoCollector:      true,
		IncludeProcessCollector: true,
		UpdateBuckets: []float64{
			0.000001, 0.000005, 0.00001, 0.00005, 0.0001,
			0.0005, 0.001, 0.005, 0.01, 0.05,
		},
		LatenessBuckets: []float64{
			0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
			0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 1,
		},
	}
}

// Registry owns a private Prometheus registry and the metric groups built
// on it. A private registry keeps tests and repeated bench runs isolated.
//
// The groups are nil when metrics are disabled; all of their methods accept
// a nil receiver.
type Registry struct {
	Engine *EngineMetrics
	Store  *StoreMetrics
	HTTP   *HTTPMetrics

	config   Config
	logger   *slog.Logger
	gatherer *prometheus.Registry

	// factory registers through a "<namespace>_" prefix, so the groups only
	// name subsystem and metric
	factory promauto.Factory
}

// global is set by the first Init; tests use NewRegistry instead.
var global atomic.Pointer[Registry]

// Init returns the process-wide registry, creating it from config on the
// first call. Later configs are ignored.
func Init(config Config) *Registry {
	if r := global.Load(); r != nil {
		return r
	}
	global.CompareAndSwap(nil, NewRegistry(config))
	return global.Load()
}

// Get returns the process-wide registry, or nil before Init.
func Get() *Registry {
	return global.Load()
}

// NewRegistry builds a registry and, when enabled, every metric group.
func NewRegistry(config Config) *Registry {
	if config.Namespace == "" {
		config.Namespace = "telegraph"
	}

	reg := prometheus.NewRegistry()
	r := &Registry{
		config:   config,
		logger:   slog.Default().With("component", "metrics"),
		gatherer: reg,
		factory:  promauto.With(prometheus.WrapRegistererWithPrefix(config.Namespace+"_", reg)),
	}

	if !config.Enabled {
		r.logger.Info("metrics collection disabled")
		return r
	}

	if config.IncludeGoCollector {
		reg.MustRegister(collectors.NewGoCollector())
	}
	if config.IncludeProcessCollector {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	r.Engine = newEngineMetrics(r)
	r.Store = newStoreMetrics(r)
	r.HTTP = newHTTPMetrics(r)

	r.logger.Debug("metrics registry initialized", "namespace", config.Namespace)
	return r
}

// Enabled reports whether metrics are collected.
func (r *Registry) Enabled() bool {
	return r.config.Enabled
}

// Gatherer exposes the registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

// Handler serves /metrics. Scrapes are themselves counted
// (promhttp_metric_handler_requests_total), unprefixed like the runtime
// collectors.
func (r *Registry) Handler() http.Handler {
	if !r.config.Enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("# Metrics disabled\n"))
		})
	}

	return promhttp.InstrumentMetricHandler(r.gatherer, promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          slog.NewLogLogger(r.logger.Handler(), slog.LevelError),
	}))
}
