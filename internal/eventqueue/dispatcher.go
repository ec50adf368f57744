// =============================================================================
// EVENT-QUEUE DISPATCHER - ABSOLUTE-TIME DELAYED DELIVERY
// =============================================================================
//
// HOW IT WORKS:
// Every delayed delivery gets its exact due time computed once, at dispatch:
//
//   due = dispatchTime + listenerDelay
//
// and is stored in ONE time-ordered queue shared by all tags:
//
//   ┌───────────────────────────────────────────────────────────────────────┐
//   │ GLOBAL QUEUE (ordered by due time)                                    │
//   │                                                                       │
//   │   t0+100ms ─► [(t1, tag 1)]                                           │
//   │   t0+200ms ─► [(t3, tag 1)]                                           │
//   │   t1+100ms ─► [(t1, tag 1)]                                           │
//   │   t0+1.5s  ─► [(t3, tag 2), (t5, tag 2)]   ◄── same instant, coalesced│
//   │   t0+2s    ─► [(t2, tag 2)]                                           │
//   └───────────────────────────────────────────────────────────────────────┘
//
//   DISPATCH: delay 0 → HandleMessage before returning
//             delay >0 → insert under due; append if the key already exists
//   UPDATE:   pop every key <= now, deliver its list in insertion order
//
// TRADE-OFFS (vs the mailbox engine):
//   + Exact due times: error is only the polling latency of Update()
//   + Update work is proportional to what is actually due
//   - One key per (dispatch instant, delay): the ordered structure churns,
//     and grows without bound if Update() is not called
//
// SEMANTICS WORTH KNOWING:
// Registration state at DispatchMessage time governs. Removing a listener
// does NOT retract deliveries that were already queued for it.
//
// =============================================================================

package eventqueue

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/clock"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"
)

// EngineName labels this engine in logs and metrics.
const EngineName = "eventqueue"

// btreeDegree is the branching factor of the time queue.
const btreeDegree = 32

// =============================================================================
// QUEUE ENTRY
// =============================================================================

// delivery is one listener waiting for one dispatch's telegram. Every
// delivery of a dispatch shares its telegram.
type delivery struct {
	listener telegraph.Telegraph
	telegram *telegraph.Telegram
}

// entry groups every delivery due at exactly the same instant.
type entry struct {
	due        time.Time
	deliveries []delivery
}

func entryLess(a, b *entry) bool {
	return a.due.Before(b.due)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds dispatcher dependencies. Zero values pick defaults.
type Config struct {
	// Clock supplies "now" for dispatch and update (default: system clock)
	Clock clock.Clock

	// Logger for registration events (default: slog.Default())
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation
	Metrics *metrics.EngineMetrics

	// DispatchLog, when set, receives the time of every DispatchMessage
	DispatchLog *telegraph.DispatchLog
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher delivers messages through a single global time-ordered queue.
//
// THREAD SAFETY:
// All methods are safe for concurrent use. Listeners are called without the
// lock held, so a listener may call back into the dispatcher.
type Dispatcher struct {
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.EngineMetrics
	dispatchLog *telegraph.DispatchLog

	// mu protects listeners, queue and pending
	mu sync.Mutex

	// listeners maps each tag to its listener→delay registry
	listeners map[telegraph.Tag]*telegraph.Registry

	// queue holds entries ordered by due time
	queue *btree.BTreeG[*entry]

	// pending counts queued deliveries across all entries
	pending int

	// stats
	totalDispatched atomic.Uint64
	totalDelivered  atomic.Uint64
	totalOutOfRange atomic.Uint64
}

// New creates an empty dispatcher.
func New(config Config) *Dispatcher {
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Dispatcher{
		clock:       config.Clock,
		logger:      config.Logger.With("component", EngineName),
		metrics:     config.Metrics,
		dispatchLog: config.DispatchLog,
		listeners:   make(map[telegraph.Tag]*telegraph.Registry),
		queue:       btree.NewG[*entry](btreeDegree, entryLess),
	}
}

// Name returns the engine name.
func (d *Dispatcher) Name() string {
	return EngineName
}

// =============================================================================
// REGISTRATION
// =============================================================================

// AddListener registers listener on tag with the given delay. Registering the
// same listener again overwrites its delay. Nothing is scheduled until the
// next DispatchMessage.
func (d *Dispatcher) AddListener(listener telegraph.Telegraph, tag telegraph.Tag, delay time.Duration) error {
	if err := telegraph.ValidateListener(listener, delay); err != nil {
		return err
	}

	d.mu.Lock()
	reg, ok := d.listeners[tag]
	if !ok {
		reg = telegraph.NewRegistry()
		d.listeners[tag] = reg
	}
	prev, existed := reg.Set(listener, delay)
	d.mu.Unlock()

	if existed {
		d.logger.Debug("listener delay overwritten", "tag", tag, "old_delay", prev, "delay", delay)
	} else {
		d.logger.Debug("listener added", "tag", tag, "delay", delay)
	}
	return nil
}

// RemoveListener deregisters listener from tag. Returns false if it was not
// registered. Deliveries already queued for it still fire.
func (d *Dispatcher) RemoveListener(listener telegraph.Telegraph, tag telegraph.Tag) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg, ok := d.listeners[tag]
	if !ok {
		return false
	}
	if _, removed := reg.Delete(listener); !removed {
		return false
	}
	if reg.Len() == 0 {
		delete(d.listeners, tag)
	}

	d.logger.Debug("listener removed", "tag", tag)
	return true
}

// Listeners returns how many listeners are registered on tag.
func (d *Dispatcher) Listeners(tag telegraph.Tag) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if reg, ok := d.listeners[tag]; ok {
		return reg.Len()
	}
	return 0
}

// =============================================================================
// DISPATCH
// =============================================================================

// DispatchMessage sends an anonymous message on tag. Zero-delay listeners
// are notified before it returns; every other listener is queued under
// now+delay. Dispatching to a tag without listeners is a no-op.
func (d *Dispatcher) DispatchMessage(tag telegraph.Tag) {
	d.DispatchMessageFrom(nil, tag, nil)
}

// DispatchMessageFrom is DispatchMessage with a sender and a payload. Both
// are optional and reach listeners that implement TelegramHandler. A Located
// sender limits delivery to listeners inside its area.
func (d *Dispatcher) DispatchMessageFrom(sender telegraph.Telegraph, tag telegraph.Tag, extraInfo any) {
	d.mu.Lock()
	now := d.clock.Now()
	if d.dispatchLog != nil {
		d.dispatchLog.Append(tag, now)
	}

	tg := &telegraph.Telegram{Tag: tag, Sender: sender, ExtraInfo: extraInfo, SentAt: now}
	var immediate []telegraph.Telegraph
	if reg, ok := d.listeners[tag]; ok {
		reg.Each(func(listener telegraph.Telegraph, delay time.Duration) {
			if delay == 0 {
				immediate = append(immediate, listener)
				return
			}
			d.enqueueLocked(now.Add(delay), delivery{listener: listener, telegram: tg})
		})
	}
	pending := d.pending
	d.mu.Unlock()

	d.totalDispatched.Add(1)
	d.metrics.RecordDispatch(EngineName, int(tag))
	d.metrics.SetPending(EngineName, pending)

	delivered := 0
	for _, listener := range immediate {
		if telegraph.Deliver(listener, tg) {
			delivered++
		}
	}
	d.recordDelivered(metrics.ModeImmediate, delivered, len(immediate)-delivered)
}

// DispatchDirect delivers tag to receiver immediately, ignoring
// subscriptions and delays.
func (d *Dispatcher) DispatchDirect(receiver telegraph.Telegraph, tag telegraph.Tag) error {
	return d.DispatchDirectFrom(nil, receiver, tag, nil)
}

// DispatchDirectFrom is DispatchDirect with a sender and a payload. Areas of
// interest are not checked.
func (d *Dispatcher) DispatchDirectFrom(sender, receiver telegraph.Telegraph, tag telegraph.Tag, extraInfo any) error {
	if receiver == nil {
		return telegraph.ErrNilListener
	}
	telegraph.DeliverDirect(receiver, &telegraph.Telegram{
		Tag: tag, Sender: sender, ExtraInfo: extraInfo, SentAt: d.clock.Now(),
	})
	d.recordDelivered(metrics.ModeDirect, 1, 0)
	return nil
}

func (d *Dispatcher) recordDelivered(mode string, delivered, outOfRange int) {
	d.totalDelivered.Add(uint64(delivered))
	d.totalOutOfRange.Add(uint64(outOfRange))
	d.metrics.RecordDeliveries(EngineName, mode, delivered)
}

// enqueueLocked adds dl under due, coalescing with an existing entry that has
// the identical due time. Caller must hold d.mu.
func (d *Dispatcher) enqueueLocked(due time.Time, dl delivery) {
	key := &entry{due: due}
	if existing, ok := d.queue.Get(key); ok {
		existing.deliveries = append(existing.deliveries, dl)
	} else {
		key.deliveries = []delivery{dl}
		d.queue.ReplaceOrInsert(key)
	}
	d.pending++
}

// =============================================================================
// UPDATE
// =============================================================================

// Update delivers everything whose due time is <= now and returns how many
// deliveries were made. A queued delivery whose listener is out of the
// sender's area at that moment is dropped. It never blocks or sleeps; the caller owns the
// polling cadence.
func (d *Dispatcher) Update() int {
	start := time.Now()

	d.mu.Lock()
	now := d.clock.Now()
	var due []delivery
	for {
		head, ok := d.queue.Min()
		if !ok || head.due.After(now) {
			break
		}
		d.queue.DeleteMin()
		due = append(due, head.deliveries...)
	}
	d.pending -= len(due)
	pending := d.pending
	d.mu.Unlock()

	delivered := 0
	for _, dl := range due {
		if telegraph.Deliver(dl.listener, dl.telegram) {
			delivered++
		}
	}

	d.recordDelivered(metrics.ModeDelayed, delivered, len(due)-delivered)
	d.metrics.SetPending(EngineName, pending)
	d.metrics.ObserveUpdate(EngineName, time.Since(start))

	return delivered
}

// =============================================================================
// INTROSPECTION
// =============================================================================

// Pending returns the number of queued deliveries.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Keys returns the number of distinct due instants in the queue.
func (d *Dispatcher) Keys() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// NextDue returns the earliest due time, if anything is queued.
func (d *Dispatcher) NextDue() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	head, ok := d.queue.Min()
	if !ok {
		return time.Time{}, false
	}
	return head.due, true
}

// Stats holds dispatcher counters.
type Stats struct {
	TotalDispatched uint64
	TotalDelivered  uint64
	TotalOutOfRange uint64
	Pending         int
	Keys            int
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pending, keys := d.pending, d.queue.Len()
	d.mu.Unlock()

	return Stats{
		TotalDispatched: d.totalDispatched.Load(),
		TotalDelivered:  d.totalDelivered.Load(),
		TotalOutOfRange: d.totalOutOfRange.Load(),
		Pending:         pending,
		Keys:            keys,
	}
}
