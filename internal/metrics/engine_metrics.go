package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery modes used as the "mode" label of deliveries_total.
const (
	ModeImmediate = "immediate"
	ModeDelayed   = "delayed"
	ModeDirect    = "direct"
)

// EngineMetrics instruments the dispatch engines.
//
// All metrics follow the pattern: telegraph_engine_{name}_{unit}.
// Every method is safe to call on a nil *EngineMetrics, so engines built
// without metrics need no special casing.
type EngineMetrics struct {
	// Dispatches counts DispatchMessage calls.
	// Labels: engine, tag
	Dispatches *prometheus.CounterVec

	// Deliveries counts HandleMessage calls made by an engine.
	// Labels: engine, mode (immediate, delayed, direct)
	Deliveries *prometheus.CounterVec

	// PendingDeliveries is the amount of queued work after the last Update.
	// For eventqueue: queued (listener, tag) pairs.
	// For mailbox: pending dispatch records.
	// Labels: engine
	PendingDeliveries *prometheus.GaugeVec

	// UpdateDuration measures one Update() call.
	// Labels: engine
	UpdateDuration *prometheus.HistogramVec

	// DeliveryLateness is measured delay minus requested delay.
	// Observed by the benchmark harness, not by the engines.
	// Labels: engine
	//
	// PROMQL:
	//   histogram_quantile(0.99,
	//     rate(telegraph_engine_delivery_lateness_seconds_bucket[1m]))
	DeliveryLateness *prometheus.HistogramVec
}

func newEngineMetrics(r *Registry) *EngineMetrics {
	return &EngineMetrics{
		Dispatches: r.factory.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "engine",
			Name:      "dispatches_total",
			Help:      "Total DispatchMessage calls",
		}, []string{"engine", "tag"}),

		Deliveries: r.factory.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "engine",
			Name:      "deliveries_total",
			Help:      "Total messages handed to listeners",
		}, []string{"engine", "mode"}),

		PendingDeliveries: r.factory.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "engine",
			Name:      "pending_deliveries",
			Help:      "Work still queued after the last update",
		}, []string{"engine"}),

		UpdateDuration: r.factory.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "engine",
			Name:      "update_duration_seconds",
			Help:      "Time spent in one Update call",
			Buckets:   r.config.UpdateBuckets,
		}, []string{"engine"}),

		DeliveryLateness: r.factory.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "engine",
			Name:      "delivery_lateness_seconds",
			Help:      "Measured delivery delay minus requested delay",
			Buckets:   r.config.LatenessBuckets,
		}, []string{"engine"}),
	}
}

// RecordDispatch counts one dispatch on tag.
func (m *EngineMetrics) RecordDispatch(engine string, tag int) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(engine, strconv.Itoa(tag)).Inc()
}

// RecordDeliveries counts n deliveries in the given mode.
func (m *EngineMetrics) RecordDeliveries(engine, mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Deliveries.WithLabelValues(engine, mode).Add(float64(n))
}

// SetPending records the queued work left after an update.
func (m *EngineMetrics) SetPending(engine string, n int) {
	if m == nil {
		return
	}
	m.PendingDeliveries.WithLabelValues(engine).Set(float64(n))
}

// ObserveUpdate records how long one Update call took.
func (m *EngineMetrics) ObserveUpdate(engine string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpdateDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// ObserveLateness records how late a delivery was.
// Early deliveries (negative lateness) are recorded as zero.
func (m *EngineMetrics) ObserveLateness(engine string, d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.DeliveryLateness.WithLabelValues(engine).Observe(d.Seconds())
}
