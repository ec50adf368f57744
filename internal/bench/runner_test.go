package bench

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/clock"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/config"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/workload"
)

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

var engines = []string{config.EngineEventQueue, config.EngineMailbox}

// evenSchedule dispatches n messages on tag, one every interval.
func evenSchedule(n int, interval time.Duration, tag telegraph.Tag) workload.Schedule {
	s := make(workload.Schedule, n)
	for i := range s {
		s[i] = workload.Message{At: time.Duration(i) * interval, Tag: tag}
	}
	return s
}

// =============================================================================
// SIMULATED RUNS
// =============================================================================

func TestRunner_SimulatedLatenessIsPollGranularity(t *testing.T) {
	// WHAT: 1ms polling, a listener with a 1.5ms delay
	// WHY: Both engines can only deliver on the next tick, so every sample
	//      is exactly 500µs late; the zero-delay listener is never late

	schedule := evenSchedule(10, 10*time.Millisecond, 1)
	subs := []workload.Subscription{
		{Listener: "late", Tag: 1, Delay: 1500 * time.Microsecond},
		{Listener: "now", Tag: 1, Delay: 0},
	}

	for _, name := range engines {
		t.Run(name, func(t *testing.T) {
			r := &Runner{PollInterval: time.Millisecond, Grace: 10 * time.Millisecond, Simulate: true}
			res, err := r.Run(context.Background(), name, schedule, subs)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			if res.Delivered != 20 || res.Missed != 0 || res.Pending != 0 {
				t.Fatalf("delivered=%d missed=%d pending=%d", res.Delivered, res.Missed, res.Pending)
			}
			for _, s := range res.Samples {
				want := time.Duration(0)
				if s.Listener == "late" {
					want = 500 * time.Microsecond
				}
				if s.Measured != want {
					t.Errorf("%s: expected lateness %v, got %v", s.Listener, want, s.Measured)
				}
			}
			if res.ID == "" || res.Engine != name || !res.Simulated {
				t.Errorf("unexpected result header: %+v", res)
			}
		})
	}
}

func TestRunner_ReferenceExperimentSimulated(t *testing.T) {
	// WHAT: The default configuration on a simulated clock
	// WHY: Every dispatch must be delivered to every subscriber once

	cfg := config.Default()
	rng := workload.NewRand(11)
	schedule := workload.Generate(cfg.Workload, rng)
	subs := workload.Subscriptions(cfg, rng)
	counts := schedule.CountByTag()
	expected := 3*counts[1] + 3*counts[2]

	for _, name := range engines {
		t.Run(name, func(t *testing.T) {
			r := &Runner{PollInterval: time.Millisecond, Grace: cfg.Workload.Grace, Simulate: true}
			res, err := r.Run(context.Background(), name, schedule, subs)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Delivered != expected || len(res.Samples) != expected {
				t.Errorf("expected %d deliveries, got %d (%d samples)", expected, res.Delivered, len(res.Samples))
			}
			for _, s := range res.Samples {
				if s.Measured < 0 {
					t.Fatalf("delivered early: %+v", s)
				}
			}
		})
	}
}

func TestRunner_GraceTooShortCountsMissed(t *testing.T) {
	// WHAT: Grace shorter than the listener's delay
	// WHY: Deliveries that never happen are reported as missed, not dropped

	schedule := evenSchedule(1, time.Millisecond, 1)
	subs := []workload.Subscription{{Listener: "slow", Tag: 1, Delay: time.Second}}

	for _, name := range engines {
		t.Run(name, func(t *testing.T) {
			r := &Runner{PollInterval: time.Millisecond, Grace: 10 * time.Millisecond, Simulate: true}
			res, err := r.Run(context.Background(), name, schedule, subs)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Missed != 1 || res.Delivered != 0 || res.Pending == 0 {
				t.Errorf("missed=%d delivered=%d pending=%d", res.Missed, res.Delivered, res.Pending)
			}
		})
	}
}

func TestRunner_ReRegistrationUsesLastDelay(t *testing.T) {
	schedule := evenSchedule(3, 5*time.Millisecond, 2)
	subs := []workload.Subscription{
		{Listener: "x", Tag: 2, Delay: 50 * time.Millisecond},
		{Listener: "x", Tag: 2, Delay: 2 * time.Millisecond},
	}

	r := &Runner{PollInterval: time.Millisecond, Grace: 5 * time.Millisecond, Simulate: true}
	res, err := r.Run(context.Background(), config.EngineMailbox, schedule, subs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(res.Samples))
	}
	for _, s := range res.Samples {
		if s.Expected != 2*time.Millisecond || s.Measured != 0 {
			t.Errorf("unexpected sample %+v", s)
		}
	}
}

func TestRunner_Metrics(t *testing.T) {
	cfg := metrics.DefaultConfig()
	cfg.IncludeGoCollector = false
	cfg.IncludeProcessCollector = false
	reg := metrics.NewRegistry(cfg)

	r := &Runner{PollInterval: time.Millisecond, Grace: 5 * time.Millisecond, Simulate: true, Metrics: reg.Engine}
	subs := []workload.Subscription{{Listener: "a", Tag: 1, Delay: time.Millisecond}}
	if _, err := r.Run(context.Background(), config.EngineEventQueue, evenSchedule(4, time.Millisecond, 1), subs); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := testutil.ToFloat64(reg.Engine.Dispatches.WithLabelValues(config.EngineEventQueue, "1")); got != 4 {
		t.Errorf("expected 4 dispatches, got %v", got)
	}
	if n := testutil.CollectAndCount(reg.Engine.DeliveryLateness); n != 1 {
		t.Errorf("expected one lateness series, got %d", n)
	}
}

// =============================================================================
// ERRORS AND CANCELLATION
// =============================================================================

func TestRunner_Errors(t *testing.T) {
	r := &Runner{Simulate: true}
	if _, err := r.Run(context.Background(), config.EngineMailbox, nil, nil); !errors.Is(err, ErrInvalidPollInterval) {
		t.Errorf("expected ErrInvalidPollInterval, got %v", err)
	}

	r.PollInterval = time.Millisecond
	if _, err := r.Run(context.Background(), "wheel", nil, nil); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("expected ErrUnknownEngine, got %v", err)
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, simulate := range []bool{true, false} {
		r := &Runner{PollInterval: time.Millisecond, Grace: time.Hour, Simulate: simulate}
		_, err := r.Run(ctx, config.EngineEventQueue, evenSchedule(1, time.Millisecond, 1), nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("simulate=%v: expected context.Canceled, got %v", simulate, err)
		}
	}
}

func TestRunner_RealClockShortRun(t *testing.T) {
	// WHAT: A few milliseconds against the wall clock
	// WHY: The real loop must terminate and never deliver early

	if testing.Short() {
		t.Skip("skipping wall-clock run in short mode")
	}

	schedule := evenSchedule(5, 2*time.Millisecond, 1)
	subs := []workload.Subscription{{Listener: "a", Tag: 1, Delay: 3 * time.Millisecond}}

	for _, name := range engines {
		t.Run(name, func(t *testing.T) {
			r := &Runner{PollInterval: 200 * time.Microsecond, Grace: 50 * time.Millisecond}
			res, err := r.Run(context.Background(), name, schedule, subs)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Delivered != 5 {
				t.Errorf("expected 5 deliveries, got %d", res.Delivered)
			}
			for _, s := range res.Samples {
				if s.Measured < 0 {
					t.Errorf("delivered early: %+v", s)
				}
			}
		})
	}
}

// =============================================================================
// ENGINE ADAPTERS
// =============================================================================

func TestNewEngine_Adapters(t *testing.T) {
	for _, name := range engines {
		t.Run(name, func(t *testing.T) {
			eng, err := NewEngine(name, EngineOptions{})
			if err != nil {
				t.Fatalf("NewEngine failed: %v", err)
			}
			if eng.Name() != name {
				t.Errorf("expected name %q, got %q", name, eng.Name())
			}

			l := telegraph.NewRecorder("x", clock.System())
			if err := eng.AddListener(l, 4, 0); err != nil {
				t.Fatalf("AddListener failed: %v", err)
			}
			if err := eng.DispatchMessage(4); err != nil {
				t.Fatalf("DispatchMessage failed: %v", err)
			}
			if !eng.RemoveListener(l, 4) || eng.RemoveListener(l, 4) {
				t.Error("RemoveListener must succeed once")
			}
		})
	}
}
