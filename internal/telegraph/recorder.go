package telegraph

import (
	"sync"
	"time"
)

// =============================================================================
// RECEIVED LOGS
// =============================================================================
//
// Two append-only logs feed the measurement harness:
//
//   DispatchLog (dispatcher side)  tag → [dispatch times]
//   Recorder    (receiver side)    tag → [delivery times]
//
// The i-th delivery a Recorder sees for a tag belongs to the i-th dispatch of
// that tag, because both engines deliver one tag's dispatches in order. Neither
// log takes part in scheduling.
//
// =============================================================================

// TimeLog is a per-tag append-only list of timestamps.
// Safe for concurrent use.
type TimeLog struct {
	mu      sync.Mutex
	entries map[Tag][]time.Time
}

// NewTimeLog creates an empty log.
func NewTimeLog() *TimeLog {
	return &TimeLog{entries: make(map[Tag][]time.Time)}
}

// Append records t under tag.
func (l *TimeLog) Append(tag Tag, t time.Time) {
	l.mu.Lock()
	l.entries[tag] = append(l.entries[tag], t)
	l.mu.Unlock()
}

// Entries returns a copy of the timestamps recorded for tag.
func (l *TimeLog) Entries(tag Tag) []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.entries[tag]
	out := make([]time.Time, len(src))
	copy(out, src)
	return out
}

// Len returns how many timestamps are recorded for tag.
func (l *TimeLog) Len(tag Tag) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[tag])
}

// Reset drops every entry.
func (l *TimeLog) Reset() {
	l.mu.Lock()
	l.entries = make(map[Tag][]time.Time)
	l.mu.Unlock()
}

// DispatchLog records when each DispatchMessage call happened, per tag.
type DispatchLog = TimeLog

// NewDispatchLog creates an empty dispatch log.
func NewDispatchLog() *DispatchLog {
	return NewTimeLog()
}

// Clock is the subset of clock.Clock a Recorder needs.
type Clock interface {
	Now() time.Time
}

// Recorder is a Telegraph that logs the time of every delivery it receives.
type Recorder struct {
	// ID names the recorder in reports
	ID string

	clock    Clock
	received *TimeLog
}

// NewRecorder creates a recorder reading time from clk.
func NewRecorder(id string, clk Clock) *Recorder {
	return &Recorder{
		ID:       id,
		clock:    clk,
		received: NewTimeLog(),
	}
}

// HandleMessage implements Telegraph.
func (r *Recorder) HandleMessage(tag Tag) {
	r.received.Append(tag, r.clock.Now())
}

// Received returns the delivery times recorded for tag.
func (r *Recorder) Received(tag Tag) []time.Time {
	return r.received.Entries(tag)
}

// Count returns how many deliveries were recorded for tag.
func (r *Recorder) Count(tag Tag) int {
	return r.received.Len(tag)
}
