// =============================================================================
// STORAGE METRICS - RUN STORE INSTRUMENTATION
// =============================================================================
//
// The run store is SQLite in WAL mode, shared between a `run` process that
// writes and a `serve` process that reads. The interesting questions are:
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │  Q: "Is the writer fighting the reader?"                                │
//   │  A: rate(telegraph_store_retries_total[5m]) > 0                         │
//   │                                                                         │
//   │  Q: "How long does saving a run take?"                                  │
//   │  A: histogram_quantile(0.99,                                            │
//   │       rate(telegraph_store_operation_duration_seconds_bucket{op=        │
//   │            "save_run"}[5m]))                                            │
//   │                                                                         │
//   │  Q: "How much data have we collected?"                                  │
//   │  A: telegraph_store_samples_written_total                               │
//   └─────────────────────────────────────────────────────────────────────────┘
//
// =============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Store operation results used as the "result" label.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// StoreMetrics instruments internal/store. Nil-safe like EngineMetrics.
type StoreMetrics struct {
	// Operations counts store calls.
	// Labels: op (save_run, list_runs, get_run, ...), result (ok, error)
	Operations *prometheus.CounterVec

	// OperationDuration measures store calls, retries included.
	// Labels: op
	OperationDuration *prometheus.HistogramVec

	// Retries counts writes replayed after lock contention.
	Retries prometheus.Counter

	// SamplesWritten counts lateness samples persisted.
	SamplesWritten prometheus.Counter
}

func newStoreMetrics(r *Registry) *StoreMetrics {
	return &StoreMetrics{
		Operations: r.factory.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total run store operations",
		}, []string{"op", "result"}),

		OperationDuration: r.factory.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Time spent in one run store operation",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),

		Retries: r.factory.NewCounter(prometheus.CounterOpts{
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Writes replayed after SQLite lock contention",
		}),

		SamplesWritten: r.factory.NewCounter(prometheus.CounterOpts{
			Subsystem: "store",
			Name:      "samples_written_total",
			Help:      "Lateness samples persisted",
		}),
	}
}

// ObserveOperation records one store call and its outcome.
func (m *StoreMetrics) ObserveOperation(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordRetry counts one replayed write.
func (m *StoreMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// RecordSamples counts n persisted samples.
func (m *StoreMetrics) RecordSamples(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SamplesWritten.Add(float64(n))
}
