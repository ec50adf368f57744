package mailbox

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/clock"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"
)

// EngineName labels this engine in logs and metrics.
const EngineName = "mailbox"

// ErrMailboxNotFound is returned when an operation names a tag that has no
// mailbox. Mailboxes must be created with AddMailbox first.
var ErrMailboxNotFound = errors.New("mailbox not found")

// Config holds dispatcher dependencies. Zero values pick defaults.
type Config struct {
	// Clock supplies "now" for dispatch and update (default: system clock)
	Clock clock.Clock

	// Logger (default: slog.Default())
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation
	Metrics *metrics.EngineMetrics

	// DispatchLog, when set, receives the time of every DispatchMessage
	DispatchLog *telegraph.DispatchLog

	// MinScanInterval is applied to every mailbox (0 = scan every update)
	MinScanInterval time.Duration
}

// Dispatcher routes messages to per-tag mailboxes.
//
// THREAD SAFETY:
// All methods are safe for concurrent use. Deliveries are collected under the
// lock and made after it is released, so listeners may call back in.
type Dispatcher struct {
	clock           clock.Clock
	logger          *slog.Logger
	metrics         *metrics.EngineMetrics
	dispatchLog     *telegraph.DispatchLog
	minScanInterval time.Duration

	// mu protects mailboxes and tags
	mu sync.Mutex

	mailboxes map[telegraph.Tag]*Mailbox

	// tags is kept sorted so Update visits mailboxes in ascending tag order
	tags []telegraph.Tag

	// stats
	totalDispatched atomic.Uint64
	totalDelivered  atomic.Uint64
	totalOutOfRange atomic.Uint64
}

// New creates a dispatcher with no mailboxes.
func New(config Config) *Dispatcher {
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Dispatcher{
		clock:           config.Clock,
		logger:          config.Logger.With("component", EngineName),
		metrics:         config.Metrics,
		dispatchLog:     config.DispatchLog,
		minScanInterval: config.MinScanInterval,
		mailboxes:       make(map[telegraph.Tag]*Mailbox),
	}
}

// Name returns the engine name.
func (d *Dispatcher) Name() string {
	return EngineName
}

// =============================================================================
// MAILBOX LIFECYCLE
// =============================================================================

// AddMailbox creates an empty mailbox for tag. No-op if one already exists.
func (d *Dispatcher) AddMailbox(tag telegraph.Tag) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.mailboxes[tag]; ok {
		return
	}

	mb := NewMailbox(tag)
	mb.SetMinScanInterval(d.minScanInterval)
	d.mailboxes[tag] = mb

	i, _ := slices.BinarySearch(d.tags, tag)
	d.tags = slices.Insert(d.tags, i, tag)

	d.logger.Debug("mailbox added", "tag", tag)
}

// RemoveMailbox discards the mailbox for tag together with its listeners and
// pending records. Returns false if there was none.
func (d *Dispatcher) RemoveMailbox(tag telegraph.Tag) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	mb, ok := d.mailboxes[tag]
	if !ok {
		return false
	}
	delete(d.mailboxes, tag)
	if i, found := slices.BinarySearch(d.tags, tag); found {
		d.tags = slices.Delete(d.tags, i, i+1)
	}

	d.logger.Debug("mailbox removed", "tag", tag, "dropped_records", mb.Pending())
	return true
}

// Tags returns the tags that have a mailbox, ascending.
func (d *Dispatcher) Tags() []telegraph.Tag {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.tags)
}

// =============================================================================
// REGISTRATION
// =============================================================================

// AddListener registers listener on tag's mailbox with delay. Registering the
// same listener again moves it to the new delay.
func (d *Dispatcher) AddListener(listener telegraph.Telegraph, tag telegraph.Tag, delay time.Duration) error {
	d.mu.Lock()
	mb, ok := d.mailboxes[tag]
	if !ok {
		d.mu.Unlock()
		return ErrMailboxNotFound
	}
	err := mb.AddListener(listener, delay)
	d.mu.Unlock()

	if err != nil {
		return err
	}
	d.logger.Debug("listener registered", "tag", tag, "delay", delay)
	return nil
}

// RemoveListener deregisters listener from tag. Returns false if either the
// mailbox or the registration is missing.
func (d *Dispatcher) RemoveListener(listener telegraph.Telegraph, tag telegraph.Tag) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	mb, ok := d.mailboxes[tag]
	if !ok {
		return false
	}
	if !mb.RemoveListener(listener) {
		return false
	}
	d.logger.Debug("listener removed", "tag", tag)
	return true
}

// Listeners returns how many listeners are registered on tag.
func (d *Dispatcher) Listeners(tag telegraph.Tag) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if mb, ok := d.mailboxes[tag]; ok {
		return mb.Listeners()
	}
	return 0
}

// =============================================================================
// DISPATCH
// =============================================================================

// DispatchMessage notifies tag's zero-delay listeners before returning and
// queues one record for its delay buckets.
func (d *Dispatcher) DispatchMessage(tag telegraph.Tag) error {
	return d.DispatchMessageFrom(nil, tag, nil)
}

// DispatchMessageFrom is DispatchMessage with a sender and a payload. Both
// are optional and reach listeners that implement TelegramHandler. A Located
// sender limits delivery to listeners inside its area.
func (d *Dispatcher) DispatchMessageFrom(sender telegraph.Telegraph, tag telegraph.Tag, extraInfo any) error {
	d.mu.Lock()
	mb, ok := d.mailboxes[tag]
	if !ok {
		d.mu.Unlock()
		return ErrMailboxNotFound
	}

	now := d.clock.Now()
	if d.dispatchLog != nil {
		d.dispatchLog.Append(tag, now)
	}
	immediate := mb.dispatch(now, sender, extraInfo)
	pending := d.pendingLocked()
	d.mu.Unlock()

	d.totalDispatched.Add(1)
	d.metrics.RecordDispatch(EngineName, int(tag))
	d.metrics.SetPending(EngineName, pending)

	delivered := deliverAll(immediate)
	d.recordDelivered(metrics.ModeImmediate, delivered, len(immediate)-delivered)
	return nil
}

// DispatchDirect delivers tag to receiver immediately. The tag must have a
// mailbox, but subscriptions and delays are ignored.
func (d *Dispatcher) DispatchDirect(receiver telegraph.Telegraph, tag telegraph.Tag) error {
	return d.DispatchDirectFrom(nil, receiver, tag, nil)
}

// DispatchDirectFrom is DispatchDirect with a sender and a payload. Areas of
// interest are not checked.
func (d *Dispatcher) DispatchDirectFrom(sender, receiver telegraph.Telegraph, tag telegraph.Tag, extraInfo any) error {
	if receiver == nil {
		return telegraph.ErrNilListener
	}

	d.mu.Lock()
	_, ok := d.mailboxes[tag]
	now := d.clock.Now()
	d.mu.Unlock()
	if !ok {
		return ErrMailboxNotFound
	}

	telegraph.DeliverDirect(receiver, &telegraph.Telegram{
		Tag: tag, Sender: sender, ExtraInfo: extraInfo, SentAt: now,
	})
	d.recordDelivered(metrics.ModeDirect, 1, 0)
	return nil
}

func (d *Dispatcher) recordDelivered(mode string, delivered, outOfRange int) {
	d.totalDelivered.Add(uint64(delivered))
	d.totalOutOfRange.Add(uint64(outOfRange))
	d.metrics.RecordDeliveries(EngineName, mode, delivered)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update advances every mailbox, in ascending tag order, and returns how many
// deliveries were made.
func (d *Dispatcher) Update() int {
	start := time.Now()

	d.mu.Lock()
	now := d.clock.Now()
	var due []delivery
	for _, tag := range d.tags {
		due = append(due, d.mailboxes[tag].collect(now)...)
	}
	pending := d.pendingLocked()
	d.mu.Unlock()

	delivered := deliverAll(due)
	d.recordDelivered(metrics.ModeDelayed, delivered, len(due)-delivered)
	d.metrics.SetPending(EngineName, pending)
	d.metrics.ObserveUpdate(EngineName, time.Since(start))

	return delivered
}

// =============================================================================
// INTROSPECTION
// =============================================================================

func (d *Dispatcher) pendingLocked() int {
	total := 0
	for _, mb := range d.mailboxes {
		total += mb.Pending()
	}
	return total
}

// Pending returns the number of queued records across all mailboxes.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingLocked()
}

// MailboxInfo is a read-only snapshot of one mailbox.
type MailboxInfo struct {
	Tag       telegraph.Tag
	Listeners int
	Buckets   []time.Duration
	Records   []Record
}

// Mailbox returns a snapshot of tag's mailbox.
func (d *Dispatcher) Mailbox(tag telegraph.Tag) (MailboxInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mb, ok := d.mailboxes[tag]
	if !ok {
		return MailboxInfo{}, false
	}
	return MailboxInfo{
		Tag:       tag,
		Listeners: mb.Listeners(),
		Buckets:   mb.Buckets(),
		Records:   mb.Records(),
	}, true
}

// Stats holds dispatcher counters.
type Stats struct {
	TotalDispatched uint64
	TotalDelivered  uint64
	TotalOutOfRange uint64
	Pending         int
	Mailboxes       int
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pending, boxes := d.pendingLocked(), len(d.mailboxes)
	d.mu.Unlock()

	return Stats{
		TotalDispatched: d.totalDispatched.Load(),
		TotalDelivered:  d.totalDelivered.Load(),
		TotalOutOfRange: d.totalOutOfRange.Load(),
		Pending:         pending,
		Mailboxes:       boxes,
	}
}
