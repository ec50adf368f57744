// =============================================================================
// MAILBOX DISPATCHER TESTS
// =============================================================================
//
// TEST CATEGORIES:
//   - Mailbox lifecycle
//   - Delivery timing through the dispatcher
//   - Update ordering, re-entrancy and metrics
//
// =============================================================================

package mailbox

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/clock"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"
)

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func newTestDispatcher(t *testing.T, tags ...telegraph.Tag) (*Dispatcher, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	d := New(Config{Clock: clk})
	for _, tag := range tags {
		d.AddMailbox(tag)
	}
	return d, clk
}

func mustAdd(t *testing.T, d *Dispatcher, l telegraph.Telegraph, tag telegraph.Tag, delay time.Duration) {
	t.Helper()
	if err := d.AddListener(l, tag, delay); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}
}

func mustDispatch(t *testing.T, d *Dispatcher, tag telegraph.Tag) {
	t.Helper()
	if err := d.DispatchMessage(tag); err != nil {
		t.Fatalf("DispatchMessage failed: %v", err)
	}
}

// tagOrder records the tags it receives, in order.
type tagOrder struct {
	tags []telegraph.Tag
}

func (o *tagOrder) HandleMessage(tag telegraph.Tag) {
	o.tags = append(o.tags, tag)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestDispatcher_UnknownMailbox(t *testing.T) {
	d, _ := newTestDispatcher(t)
	l := newCounter()

	if err := d.AddListener(l, 7, 0); !errors.Is(err, ErrMailboxNotFound) {
		t.Errorf("AddListener: expected ErrMailboxNotFound, got %v", err)
	}
	if err := d.DispatchMessage(7); !errors.Is(err, ErrMailboxNotFound) {
		t.Errorf("DispatchMessage: expected ErrMailboxNotFound, got %v", err)
	}
	if err := d.DispatchDirect(l, 7); !errors.Is(err, ErrMailboxNotFound) {
		t.Errorf("DispatchDirect: expected ErrMailboxNotFound, got %v", err)
	}
	if d.RemoveListener(l, 7) {
		t.Error("RemoveListener on unknown tag must return false")
	}
	if d.RemoveMailbox(7) {
		t.Error("RemoveMailbox on unknown tag must return false")
	}
}

func TestDispatcher_AddMailboxIsIdempotent(t *testing.T) {
	d, _ := newTestDispatcher(t, 1)
	mustAdd(t, d, newCounter(), 1, time.Second)

	d.AddMailbox(1)
	if d.Listeners(1) != 1 {
		t.Errorf("AddMailbox on existing tag wiped listeners")
	}
}

func TestDispatcher_TagsSorted(t *testing.T) {
	d, _ := newTestDispatcher(t, 5, 1, 3)
	d.RemoveMailbox(3)
	d.AddMailbox(2)

	got := d.Tags()
	want := []telegraph.Tag{1, 2, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestDispatcher_RemoveMailboxWithPendingRecord(t *testing.T) {
	// WHAT: Tag 3 removed with a record at watermark 100µs and an
	//       unscanned bucket at 300µs
	// WHY: Later updates must not touch the removed state

	d, clk := newTestDispatcher(t, 3)
	near, far := newCounter(), newCounter()
	mustAdd(t, d, near, 3, 100*time.Microsecond)
	mustAdd(t, d, far, 3, 300*time.Microsecond)

	mustDispatch(t, d, 3)
	clk.Set(epoch.Add(100 * time.Microsecond))
	d.Update()

	info, ok := d.Mailbox(3)
	if !ok || len(info.Records) != 1 || info.Records[0].Watermark != 100*time.Microsecond {
		t.Fatalf("unexpected setup state: %+v", info)
	}

	if !d.RemoveMailbox(3) {
		t.Fatal("RemoveMailbox returned false")
	}

	clk.Advance(time.Second)
	if n := d.Update(); n != 0 {
		t.Errorf("expected no deliveries, got %d", n)
	}
	if far.hits[3] != 0 {
		t.Errorf("stray delivery to removed tag: %d", far.hits[3])
	}
	if near.hits[3] != 1 {
		t.Errorf("expected near delivered before removal, got %d", near.hits[3])
	}
	if d.Pending() != 0 {
		t.Errorf("expected no pending records, got %d", d.Pending())
	}
	if _, ok := d.Mailbox(3); ok {
		t.Error("mailbox still reachable after removal")
	}
}

// =============================================================================
// DELIVERY TIMING TESTS
// =============================================================================

func TestDispatcher_DelayedDeliveryScenario(t *testing.T) {
	// WHAT: Listener with 200ms delay, updates at 150ms and 250ms
	// WHY: Must not fire early, must fire exactly once once due

	d, clk := newTestDispatcher(t, 1)
	l := telegraph.NewRecorder("L", clk)
	mustAdd(t, d, l, 1, 200000*time.Microsecond)

	mustDispatch(t, d, 1)

	clk.Set(epoch.Add(150000 * time.Microsecond))
	if n := d.Update(); n != 0 || l.Count(1) != 0 {
		t.Fatalf("delivered early: update=%d count=%d", n, l.Count(1))
	}

	clk.Set(epoch.Add(250000 * time.Microsecond))
	if n := d.Update(); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	clk.Advance(time.Second)
	d.Update()
	if l.Count(1) != 1 {
		t.Errorf("expected exactly one delivery, got %d", l.Count(1))
	}
	if got := l.Received(1)[0]; !got.Equal(epoch.Add(250 * time.Millisecond)) {
		t.Errorf("delivered at %v, want the 250ms update", got)
	}
}

func TestDispatcher_ZeroDelayIsSynchronous(t *testing.T) {
	// WHAT: Tag 2 with a 0 and a 500µs listener
	// WHY: Zero delay needs no update; 500µs waits for an update at >= 500µs

	d, clk := newTestDispatcher(t, 2)
	now, later := newCounter(), newCounter()
	mustAdd(t, d, now, 2, 0)
	mustAdd(t, d, later, 2, 500*time.Microsecond)

	mustDispatch(t, d, 2)
	if now.hits[2] != 1 {
		t.Fatalf("zero-delay listener not notified inside dispatch")
	}
	if later.hits[2] != 0 {
		t.Fatalf("delayed listener notified inside dispatch")
	}

	clk.Set(epoch.Add(499 * time.Microsecond))
	d.Update()
	if later.hits[2] != 0 {
		t.Errorf("delivered before 500µs")
	}

	clk.Set(epoch.Add(500 * time.Microsecond))
	d.Update()
	if later.hits[2] != 1 || now.hits[2] != 1 {
		t.Errorf("unexpected counts: now=%d later=%d", now.hits[2], later.hits[2])
	}
}

func TestDispatcher_RemoveListenerIdempotent(t *testing.T) {
	d, _ := newTestDispatcher(t, 1)
	l := newCounter()
	mustAdd(t, d, l, 1, time.Second)

	if !d.RemoveListener(l, 1) {
		t.Fatal("first RemoveListener returned false")
	}
	if d.RemoveListener(l, 1) {
		t.Error("second RemoveListener must be a no-op")
	}
}

func TestDispatcher_RemovedListenerMissesQueuedRecord(t *testing.T) {
	// WHAT: Listener removed after dispatch, before its bucket is reached
	// WHY: Buckets are read at update time, so removal stops delivery

	d, clk := newTestDispatcher(t, 1)
	l := newCounter()
	mustAdd(t, d, l, 1, 100*time.Millisecond)

	mustDispatch(t, d, 1)
	d.RemoveListener(l, 1)

	clk.Advance(time.Second)
	d.Update()
	if l.hits[1] != 0 {
		t.Errorf("removed listener got %d deliveries", l.hits[1])
	}
	if d.Pending() != 0 {
		t.Errorf("expected record retired, got %d pending", d.Pending())
	}
}

// =============================================================================
// ORDERING, RE-ENTRANCY, METRICS
// =============================================================================

func TestDispatcher_UpdateVisitsTagsAscending(t *testing.T) {
	d, clk := newTestDispatcher(t, 9, 4, 6)
	order := &tagOrder{}
	for _, tag := range []telegraph.Tag{9, 4, 6} {
		mustAdd(t, d, order, tag, 10*time.Millisecond)
	}
	for _, tag := range []telegraph.Tag{6, 9, 4} {
		mustDispatch(t, d, tag)
	}

	clk.Advance(10 * time.Millisecond)
	if n := d.Update(); n != 3 {
		t.Fatalf("expected 3 deliveries, got %d", n)
	}

	want := []telegraph.Tag{4, 6, 9}
	for i := range want {
		if order.tags[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order.tags)
		}
	}
}

// redispatcher dispatches another tag from inside HandleMessage.
type redispatcher struct {
	d     *Dispatcher
	next  telegraph.Tag
	calls int
}

func (r *redispatcher) HandleMessage(telegraph.Tag) {
	r.calls++
	_ = r.d.DispatchMessage(r.next)
}

func TestDispatcher_ListenerMayDispatch(t *testing.T) {
	// WHAT: A listener dispatches from inside Update
	// WHY: Deliveries run without the lock; re-entry must not deadlock

	d, clk := newTestDispatcher(t, 1, 2)
	relay := &redispatcher{d: d, next: 2}
	sink := newCounter()
	mustAdd(t, d, relay, 1, 10*time.Millisecond)
	mustAdd(t, d, sink, 2, 0)

	mustDispatch(t, d, 1)
	clk.Advance(10 * time.Millisecond)
	d.Update()

	if relay.calls != 1 || sink.hits[2] != 1 {
		t.Errorf("relay=%d sink=%d", relay.calls, sink.hits[2])
	}
}

func TestDispatcher_DispatchDirect(t *testing.T) {
	d, _ := newTestDispatcher(t, 1)
	l := newCounter()

	if err := d.DispatchDirect(l, 1); err != nil {
		t.Fatalf("DispatchDirect failed: %v", err)
	}
	if l.hits[1] != 1 {
		t.Errorf("expected direct delivery, got %d", l.hits[1])
	}
	if err := d.DispatchDirect(nil, 1); !errors.Is(err, telegraph.ErrNilListener) {
		t.Errorf("expected ErrNilListener, got %v", err)
	}
}

func TestDispatcher_MetricsAndDispatchLog(t *testing.T) {
	cfg := metrics.DefaultConfig()
	cfg.IncludeGoCollector = false
	cfg.IncludeProcessCollector = false
	reg := metrics.NewRegistry(cfg)

	log := telegraph.NewDispatchLog()
	clk := clock.NewManual(epoch)
	d := New(Config{Clock: clk, Metrics: reg.Engine, DispatchLog: log})
	d.AddMailbox(1)

	mustAdd(t, d, newCounter(), 1, 0)
	mustAdd(t, d, newCounter(), 1, 50*time.Millisecond)
	mustDispatch(t, d, 1)
	mustDispatch(t, d, 1)

	if got := testutil.ToFloat64(reg.Engine.PendingDeliveries.WithLabelValues(EngineName)); got != 2 {
		t.Errorf("expected 2 pending records, got %v", got)
	}

	clk.Advance(50 * time.Millisecond)
	d.Update()

	if got := testutil.ToFloat64(reg.Engine.Dispatches.WithLabelValues(EngineName, "1")); got != 2 {
		t.Errorf("expected 2 dispatches, got %v", got)
	}
	if got := testutil.ToFloat64(reg.Engine.Deliveries.WithLabelValues(EngineName, metrics.ModeImmediate)); got != 2 {
		t.Errorf("expected 2 immediate deliveries, got %v", got)
	}
	if got := testutil.ToFloat64(reg.Engine.Deliveries.WithLabelValues(EngineName, metrics.ModeDelayed)); got != 2 {
		t.Errorf("expected 2 delayed deliveries, got %v", got)
	}
	if log.Len(1) != 2 {
		t.Errorf("expected 2 logged dispatches, got %d", log.Len(1))
	}

	stats := d.Stats()
	if stats.TotalDispatched != 2 || stats.TotalDelivered != 4 || stats.Pending != 0 || stats.Mailboxes != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// =============================================================================
// TELEGRAM TESTS
// =============================================================================

// inbox is a Located listener that keeps whole telegrams.
type inbox struct {
	center telegraph.Point
	radius float64
	got    []telegraph.Telegram
}

func (i *inbox) Area() (telegraph.Point, float64)     { return i.center, i.radius }
func (i *inbox) HandleMessage(telegraph.Tag)          {}
func (i *inbox) HandleTelegram(tg telegraph.Telegram) { i.got = append(i.got, tg) }

func TestDispatcher_SenderAndPayload(t *testing.T) {
	// WHAT: Sender and payload reach immediate and delayed receivers alike
	// WHY: The record keeps the telegram until its last bucket fires

	d, clk := newTestDispatcher(t, 1)
	sender := newCounter()
	now, later := &inbox{}, &inbox{}
	plain := newCounter()
	mustAdd(t, d, now, 1, 0)
	mustAdd(t, d, later, 1, 100*time.Millisecond)
	mustAdd(t, d, plain, 1, 100*time.Millisecond)

	if err := d.DispatchMessageFrom(sender, 1, "hello"); err != nil {
		t.Fatalf("DispatchMessageFrom failed: %v", err)
	}
	info, _ := d.Mailbox(1)
	if len(info.Records) != 1 || info.Records[0].Sender() != sender {
		t.Fatalf("expected one record from sender, got %+v", info.Records)
	}

	clk.Advance(100 * time.Millisecond)
	d.Update()

	for name, l := range map[string]*inbox{"immediate": now, "delayed": later} {
		if len(l.got) != 1 {
			t.Fatalf("%s: expected 1 telegram, got %d", name, len(l.got))
		}
		tg := l.got[0]
		if tg.Sender != sender || tg.ExtraInfo != "hello" || tg.Tag != 1 || !tg.SentAt.Equal(epoch) {
			t.Errorf("%s: unexpected telegram %+v", name, tg)
		}
	}
	if plain.hits[1] != 1 {
		t.Errorf("plain listener should still get HandleMessage, got %d", plain.hits[1])
	}
}

func TestDispatcher_AreaOfInterest(t *testing.T) {
	// WHAT: A located sender only reaches listeners inside its radius
	// WHY: Positions are checked when the delay expires, not at dispatch

	d, clk := newTestDispatcher(t, 1)
	sender := &inbox{center: telegraph.Point{X: 0, Y: 0}, radius: 10}
	near := &inbox{center: telegraph.Point{X: 1, Y: 1}, radius: 10}
	far := &inbox{center: telegraph.Point{X: 50, Y: 0}, radius: 100}
	leaving := &inbox{center: telegraph.Point{X: 2, Y: 0}, radius: 10}
	mustAdd(t, d, near, 1, 0)
	mustAdd(t, d, far, 1, 0)
	mustAdd(t, d, leaving, 1, 50*time.Millisecond)

	if err := d.DispatchMessageFrom(sender, 1, nil); err != nil {
		t.Fatalf("DispatchMessageFrom failed: %v", err)
	}
	if len(near.got) != 1 || len(far.got) != 0 {
		t.Fatalf("near=%d far=%d", len(near.got), len(far.got))
	}

	// Moves out of range while its delivery is pending
	leaving.center = telegraph.Point{X: 20, Y: 0}
	clk.Advance(50 * time.Millisecond)
	if n := d.Update(); n != 0 {
		t.Errorf("expected no in-range deliveries, got %d", n)
	}
	if len(leaving.got) != 0 {
		t.Error("listener that left the area still received")
	}
	if d.Pending() != 0 {
		t.Errorf("out-of-range delivery must still retire the record, pending=%d", d.Pending())
	}

	stats := d.Stats()
	if stats.TotalDelivered != 1 || stats.TotalOutOfRange != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// Direct dispatch ignores areas
	if err := d.DispatchDirectFrom(sender, far, 1, 42); err != nil {
		t.Fatalf("DispatchDirectFrom failed: %v", err)
	}
	if len(far.got) != 1 || far.got[0].ExtraInfo != 42 {
		t.Errorf("expected direct telegram, got %+v", far.got)
	}
}
