// =============================================================================
// MAILBOX - PER-TAG DELAY BUCKETS WITH LAZY RANGE SCANNING
// =============================================================================
//
// WHAT IS A MAILBOX?
// A Mailbox owns everything about ONE tag:
//
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │ MAILBOX (tag 1)                                                         │
//   │                                                                         │
//   │   delays     listener → delay        {t1: 100ms, t3: 200ms, t4: 0}      │
//   │   immediate  zero-delay fast path    [t4]                               │
//   │   buckets    delay → listeners,      100ms: [t1]                        │
//   │              ordered by delay        200ms: [t3]                        │
//   │   records    FIFO of dispatches      [{t0, wm=100ms}, {t0+50ms, wm=0}]  │
//   └─────────────────────────────────────────────────────────────────────────┘
//
// DISPATCH is cheap: notify `immediate`, then append a tiny record
// {dispatchedAt: now, watermark: 0}. No per-listener work.
//
// UPDATE does the work, for every record:
//
//   elapsed = now - dispatchedAt
//
//   delay:  0 ──────── watermark ───────────── elapsed ─────────────►
//                          (  buckets in here fire  ]
//
//   watermark = elapsed
//   retired   = no buckets left, or highest bucket <= elapsed
//
// Retired records are popped from the FRONT of the queue only; a retired
// record behind a still-pending one waits its turn.
//
// TRADE-OFF (vs the event queue):
//   + dispatch is O(1) regardless of listener count
//   + buckets are built once per registration, not per dispatch
//   - delivery happens at the first Update after the delay elapses
//   - every Update rescans every pending record (records × buckets)
//
// LATE REGISTRATION:
// Retirement is re-evaluated against the CURRENT buckets on every update. A
// record still queued will deliver to a larger-delay bucket registered after
// it was dispatched, once its elapsed time reaches that delay. Records that
// were already evicted are gone for good.
//
// =============================================================================

package mailbox

import (
	"time"

	"github.com/google/btree"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"
)

// btreeDegree is the branching factor of the delay bucket tree.
const btreeDegree = 16

// bucket holds every listener of one tag that shares one delay value.
type bucket struct {
	delay   time.Duration
	members *telegraph.Registry
}

func bucketLess(a, b *bucket) bool {
	return a.delay < b.delay
}

// Record is the in-flight bookkeeping for one DispatchMessage call.
type Record struct {
	// DispatchedAt is when the message was dispatched
	DispatchedAt time.Time

	// Watermark is the elapsed time (since DispatchedAt) up to which
	// buckets have already been delivered. Never decreases.
	Watermark time.Duration

	telegram *telegraph.Telegram
	lastScan time.Time
	retired  bool
}

// Sender returns who dispatched the record, or nil.
func (r Record) Sender() telegraph.Telegraph {
	if r.telegram == nil {
		return nil
	}
	return r.telegram.Sender
}

// delivery is one listener due to receive one record's telegram.
type delivery struct {
	listener telegraph.Telegraph
	telegram *telegraph.Telegram
}

// deliverAll hands out every delivery and returns how many were in range.
func deliverAll(due []delivery) int {
	delivered := 0
	for _, dl := range due {
		if telegraph.Deliver(dl.listener, dl.telegram) {
			delivered++
		}
	}
	return delivered
}

// Mailbox holds one tag's listeners, delay buckets and pending records.
//
// A Mailbox is not safe for concurrent use. The Dispatcher serializes access
// to the mailboxes it owns.
type Mailbox struct {
	tag telegraph.Tag

	// minScanInterval skips records scanned more recently than this
	minScanInterval time.Duration

	// delays maps every registered listener to its delay
	delays *telegraph.Registry

	// immediate is the zero-delay fast path
	immediate *telegraph.Registry

	// buckets holds non-zero delays, ordered by delay
	buckets *btree.BTreeG[*bucket]

	// records is the FIFO of pending dispatches, oldest first
	records []*Record
}

// NewMailbox creates an empty mailbox for tag.
func NewMailbox(tag telegraph.Tag) *Mailbox {
	return &Mailbox{
		tag:       tag,
		delays:    telegraph.NewRegistry(),
		immediate: telegraph.NewRegistry(),
		buckets:   btree.NewG[*bucket](btreeDegree, bucketLess),
	}
}

// Tag returns the tag this mailbox serves.
func (m *Mailbox) Tag() telegraph.Tag {
	return m.tag
}

// SetMinScanInterval makes Update skip any record scanned less than d ago.
// Zero (the default) scans every record on every update.
func (m *Mailbox) SetMinScanInterval(d time.Duration) {
	m.minScanInterval = d
}

// =============================================================================
// REGISTRATION
// =============================================================================

// AddListener registers listener with delay, overwriting a previous delay.
// A listener lives in exactly one place: the zero-delay set or the bucket for
// its delay.
func (m *Mailbox) AddListener(listener telegraph.Telegraph, delay time.Duration) error {
	if err := telegraph.ValidateListener(listener, delay); err != nil {
		return err
	}

	prev, existed := m.delays.Set(listener, delay)
	if existed {
		if prev == delay {
			return nil
		}
		m.detach(listener, prev)
	}
	m.attach(listener, delay)
	return nil
}

// RemoveListener deregisters listener. Returns false if it was not registered.
// An emptied bucket is discarded.
func (m *Mailbox) RemoveListener(listener telegraph.Telegraph) bool {
	delay, ok := m.delays.Delete(listener)
	if !ok {
		return false
	}
	m.detach(listener, delay)
	return true
}

func (m *Mailbox) attach(listener telegraph.Telegraph, delay time.Duration) {
	if delay == 0 {
		m.immediate.Set(listener, 0)
		return
	}

	b, ok := m.buckets.Get(&bucket{delay: delay})
	if !ok {
		b = &bucket{delay: delay, members: telegraph.NewRegistry()}
		m.buckets.ReplaceOrInsert(b)
	}
	b.members.Set(listener, delay)
}

func (m *Mailbox) detach(listener telegraph.Telegraph, delay time.Duration) {
	if delay == 0 {
		m.immediate.Delete(listener)
		return
	}

	b, ok := m.buckets.Get(&bucket{delay: delay})
	if !ok {
		return
	}
	b.members.Delete(listener)
	if b.members.Len() == 0 {
		m.buckets.Delete(b)
	}
}

// =============================================================================
// DISPATCH AND UPDATE
// =============================================================================

// Dispatch notifies every zero-delay listener and, if any delay bucket exists,
// queues a pending record for now. Returns the number of immediate deliveries.
func (m *Mailbox) Dispatch(now time.Time) int {
	return m.DispatchFrom(now, nil, nil)
}

// DispatchFrom is Dispatch with a sender and a payload, carried to every
// receiver of this dispatch.
func (m *Mailbox) DispatchFrom(now time.Time, sender telegraph.Telegraph, extraInfo any) int {
	return deliverAll(m.dispatch(now, sender, extraInfo))
}

// Update delivers every bucket that became due since the previous scan of
// each pending record and evicts exhausted records from the queue front.
// Returns the number of deliveries.
func (m *Mailbox) Update(now time.Time) int {
	return deliverAll(m.collect(now))
}

// dispatch returns the immediate deliveries and queues a record.
func (m *Mailbox) dispatch(now time.Time, sender telegraph.Telegraph, extraInfo any) []delivery {
	tg := &telegraph.Telegram{Tag: m.tag, Sender: sender, ExtraInfo: extraInfo, SentAt: now}

	immediate := make([]delivery, 0, m.immediate.Len())
	m.immediate.Each(func(listener telegraph.Telegraph, _ time.Duration) {
		immediate = append(immediate, delivery{listener: listener, telegram: tg})
	})
	if m.buckets.Len() > 0 {
		m.records = append(m.records, &Record{DispatchedAt: now, telegram: tg, lastScan: now})
	}
	return immediate
}

// collect advances every pending record to now and returns the deliveries
// that became due, in record order then delay order.
func (m *Mailbox) collect(now time.Time) []delivery {
	var due []delivery

	highest, hasBuckets := m.buckets.Max()
	for _, rec := range m.records {
		if m.minScanInterval > 0 && now.Sub(rec.lastScan) < m.minScanInterval {
			continue
		}

		elapsed := now.Sub(rec.DispatchedAt)
		if elapsed < rec.Watermark {
			// Clock stepped backwards; the watermark never moves down
			elapsed = rec.Watermark
		}

		m.ascendRange(rec.Watermark, elapsed, func(b *bucket) {
			b.members.Each(func(listener telegraph.Telegraph, _ time.Duration) {
				due = append(due, delivery{listener: listener, telegram: rec.telegram})
			})
		})

		rec.Watermark = elapsed
		rec.lastScan = now
		rec.retired = !hasBuckets || highest.delay <= elapsed
	}

	evict := 0
	for evict < len(m.records) && m.records[evict].retired {
		evict++
	}
	if evict > 0 {
		clear(m.records[:evict])
		m.records = m.records[evict:]
	}

	return due
}

// ascendRange calls fn for every bucket with delay in (lo, hi].
func (m *Mailbox) ascendRange(lo, hi time.Duration, fn func(*bucket)) {
	if hi <= lo {
		return
	}
	m.buckets.AscendGreaterOrEqual(&bucket{delay: lo}, func(b *bucket) bool {
		if b.delay <= lo {
			return true
		}
		if b.delay > hi {
			return false
		}
		fn(b)
		return true
	})
}

// =============================================================================
// INTROSPECTION
// =============================================================================

// Pending returns the number of queued dispatch records.
func (m *Mailbox) Pending() int {
	return len(m.records)
}

// Records returns a snapshot of the pending records, oldest first.
func (m *Mailbox) Records() []Record {
	out := make([]Record, len(m.records))
	for i, rec := range m.records {
		out[i] = *rec
	}
	return out
}

// Buckets returns the non-zero delay values in ascending order.
func (m *Mailbox) Buckets() []time.Duration {
	out := make([]time.Duration, 0, m.buckets.Len())
	m.buckets.Ascend(func(b *bucket) bool {
		out = append(out, b.delay)
		return true
	})
	return out
}

// Listeners returns how many listeners are registered, zero-delay included.
func (m *Mailbox) Listeners() int {
	return m.delays.Len()
}

// Delay returns the delay registered for listener.
func (m *Mailbox) Delay(listener telegraph.Telegraph) (time.Duration, bool) {
	return m.delays.Get(listener)
}

// IsImmediate reports whether listener sits in the zero-delay set.
func (m *Mailbox) IsImmediate(listener telegraph.Telegraph) bool {
	_, ok := m.immediate.Get(listener)
	return ok
}
