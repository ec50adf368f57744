// =============================================================================
// BENCH RUNNER - THE DRIVING LOOP
// =============================================================================
//
// Neither engine has a timer of its own. Something has to call Update()
// repeatedly and fire the scheduled dispatches; that is this runner.
//
//   tick:  Update()  →  dispatch every message whose offset has passed
//          ... repeat every PollInterval until last message + Grace ...
//   end:   final Update(), then pair deliveries with dispatches
//
// TWO CLOCKS:
//
//   REAL       wall clock, ticker-driven. Lateness includes scheduler noise,
//              which is what the experiment measures.
//   SIMULATED  clock.Manual advanced by exactly PollInterval per tick. Runs as
//              fast as the CPU allows and gives the same numbers every time,
//              isolating the lateness that comes from the algorithm itself.
//
// PAIRING:
// For one (listener, tag) pair both engines deliver the i-th message of the
// tag i-th, so sample i is (recorder.Received(tag)[i], dispatchLog[tag][i]).
//
// =============================================================================

package bench

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/clock"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/workload"
)

var (
	// ErrUnknownEngine is returned for an engine name NewEngine doesn't know.
	ErrUnknownEngine = errors.New("unknown engine")

	// ErrInvalidPollInterval is returned when PollInterval is not positive.
	ErrInvalidPollInterval = errors.New("poll interval must be positive")
)

// Sample is the measured lateness of one delivery.
type Sample struct {
	Listener string
	Tag      telegraph.Tag

	// Expected is the delay the listener registered with
	Expected time.Duration

	// Measured is actual delay minus Expected
	Measured time.Duration

	DeliveredAt time.Time
}

// Result is the outcome of one engine run.
type Result struct {
	ID         string
	Engine     string
	Simulated  bool
	StartedAt  time.Time
	Elapsed    time.Duration
	Dispatched int
	Delivered  int

	// Seed is the workload seed the run was generated from, 0 if unknown
	Seed int64

	// Missed counts expected deliveries that never arrived
	Missed int

	// Pending is what the engine still held after the final update
	Pending int

	Samples []Sample
}

// Runner drives engines over a schedule.
type Runner struct {
	// PollInterval is the gap between Update() calls
	PollInterval time.Duration

	// Grace keeps polling this long after the last dispatch
	Grace time.Duration

	// Simulate uses a manual clock
	Simulate bool

	// MinScanInterval is forwarded to the mailbox engine
	MinScanInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.EngineMetrics
}

// Run replays schedule against a fresh engine called engineName with subs
// registered, and returns the paired samples.
func (r *Runner) Run(ctx context.Context, engineName string, schedule workload.Schedule, subs []workload.Subscription) (*Result, error) {
	if r.PollInterval <= 0 {
		return nil, ErrInvalidPollInterval
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bench", "engine", engineName)

	var clk clock.Clock = clock.System()
	var manual *clock.Manual
	if r.Simulate {
		manual = clock.NewManual(time.Now().Truncate(time.Second))
		clk = manual
	}

	dispatchLog := telegraph.NewDispatchLog()
	engine, err := NewEngine(engineName, EngineOptions{
		Clock:           clk,
		Logger:          logger,
		Metrics:         r.Metrics,
		DispatchLog:     dispatchLog,
		Tags:            workload.Tags(schedule, subs),
		MinScanInterval: r.MinScanInterval,
	})
	if err != nil {
		return nil, err
	}

	recorders := make(map[string]*telegraph.Recorder)
	for _, s := range subs {
		rec, ok := recorders[s.Listener]
		if !ok {
			rec = telegraph.NewRecorder(s.Listener, clk)
			recorders[s.Listener] = rec
		}
		if err := engine.AddListener(rec, s.Tag, s.Delay); err != nil {
			return nil, err
		}
	}

	logger.Info("run starting",
		"messages", len(schedule),
		"subscriptions", len(subs),
		"poll_interval", r.PollInterval,
		"simulated", r.Simulate)

	start := clk.Now()
	end := schedule.End() + r.Grace
	sess := &session{engine: engine, schedule: schedule, logger: logger}

	if r.Simulate {
		err = r.loopSimulated(ctx, sess, manual, start, end)
	} else {
		err = r.loopReal(ctx, sess, start, end)
	}
	if err != nil {
		return nil, err
	}
	engine.Update()

	result := &Result{
		ID:         uuid.NewString(),
		Engine:     engineName,
		Simulated:  r.Simulate,
		StartedAt:  start,
		Elapsed:    clk.Now().Sub(start),
		Dispatched: len(schedule),
		Pending:    engine.Pending(),
	}
	r.collect(result, engineName, dispatchLog, recorders, subs)

	logger.Info("run finished",
		"delivered", result.Delivered,
		"missed", result.Missed,
		"pending", result.Pending,
		"elapsed", result.Elapsed)

	return result, nil
}

// session is the mutable state of one run's loop.
type session struct {
	engine   Engine
	schedule workload.Schedule
	logger   *slog.Logger

	// next is the index of the first message not yet dispatched
	next int
}

// dispatchDue fires every message whose offset is <= elapsed.
func (s *session) dispatchDue(elapsed time.Duration) {
	for s.next < len(s.schedule) && s.schedule[s.next].At <= elapsed {
		tag := s.schedule[s.next].Tag
		if err := s.engine.DispatchMessage(tag); err != nil {
			// Every scheduled tag has a mailbox; this only fires on misuse
			s.logger.Warn("dispatch failed", "tag", tag, "error", err)
		}
		s.next++
	}
}

// loopSimulated advances the manual clock one PollInterval per tick.
func (r *Runner) loopSimulated(ctx context.Context, sess *session, clk *clock.Manual, start time.Time, end time.Duration) error {
	for elapsed := time.Duration(0); ; elapsed += r.PollInterval {
		if err := ctx.Err(); err != nil {
			return err
		}

		clk.Set(start.Add(elapsed))
		sess.engine.Update()
		sess.dispatchDue(elapsed)

		if elapsed >= end {
			return nil
		}
	}
}

// loopReal polls on a ticker against the wall clock.
func (r *Runner) loopReal(ctx context.Context, sess *session, start time.Time, end time.Duration) error {
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		elapsed := time.Since(start)
		sess.engine.Update()
		sess.dispatchDue(elapsed)

		if elapsed >= end {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type pairKey struct {
	listener string
	tag      telegraph.Tag
}

// collect pairs each recorder's deliveries with the dispatch log.
func (r *Runner) collect(result *Result, engineName string, dispatchLog *telegraph.DispatchLog, recorders map[string]*telegraph.Recorder, subs []workload.Subscription) {
	// Re-registration overwrites, so only the last delay per pair counts
	effective := make(map[pairKey]time.Duration)
	var order []pairKey
	for _, s := range subs {
		k := pairKey{s.Listener, s.Tag}
		if _, ok := effective[k]; !ok {
			order = append(order, k)
		}
		effective[k] = s.Delay
	}

	for _, k := range order {
		delay := effective[k]
		sent := dispatchLog.Entries(k.tag)
		received := recorders[k.listener].Received(k.tag)

		for i, at := range sent {
			if i >= len(received) {
				result.Missed += len(sent) - i
				break
			}
			lateness := received[i].Sub(at) - delay
			result.Samples = append(result.Samples, Sample{
				Listener:    k.listener,
				Tag:         k.tag,
				Expected:    delay,
				Measured:    lateness,
				DeliveredAt: received[i],
			})
			r.Metrics.ObserveLateness(engineName, lateness)
		}
		result.Delivered += min(len(sent), len(received))
	}
}
