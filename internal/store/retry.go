package store

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ---------------------------------------------------------------------------
// Contention retry
// ---------------------------------------------------------------------------
//
// A `serve` process reading while a `run` process saves a batch can hit
// SQLITE_BUSY or SQLITE_LOCKED even in WAL mode, once busy_timeout expires.
// Writes are whole transactions, so they are safe to replay from the top.
//
//   attempt 0 ──fail(busy)──► wait ~base ──► attempt 1 ──► wait ~2·base ──► ...
//                                           (capped at MaxDelay)
//
// Anything else (constraint violations, a closed database, a cancelled
// context) fails immediately.

// RetryPolicy controls how writes are replayed under lock contention.
type RetryPolicy struct {
	// MaxRetries is how many times a failed write is replayed (0 = never)
	MaxRetries int

	// BaseDelay is the wait before the first replay; it doubles per replay
	BaseDelay time.Duration

	// MaxDelay caps a single wait
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is set.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   500 * time.Millisecond,
	}
}

// SetRetryPolicy replaces the contention retry policy. Invalid delays fall
// back to the defaults.
func (s *Store) SetRetryPolicy(p RetryPolicy) {
	def := DefaultRetryPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	s.retry = p
}

// retryOnContention runs fn under the store's policy and counts replays in
// the store metrics.
func (s *Store) retryOnContention(ctx context.Context, fn func() error) error {
	return s.retry.run(ctx, s.metrics.RecordRetry, fn)
}

// run calls fn until it succeeds, fails permanently or the policy is spent.
// onRetry, when set, is called before each wait.
func (p RetryPolicy) run(ctx context.Context, onRetry func(), fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isContention(err) || attempt >= p.MaxRetries {
			return err
		}

		if onRetry != nil {
			onRetry()
		}
		timer := time.NewTimer(p.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// wait returns the pause before replay attempt+1: half of the capped
// exponential step plus a random share of the other half, so concurrent
// writers spread out.
func (p RetryPolicy) wait(attempt int) time.Duration {
	step := p.MaxDelay
	if attempt < 30 {
		if d := p.BaseDelay << uint(attempt); d > 0 && d < step {
			step = d
		}
	}
	half := step / 2
	if half <= 0 {
		return step
	}
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// isContention reports whether err means another connection held a lock.
func isContention(err error) bool {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return sqErr.Code() == sqlite3.SQLITE_IOERR_SHORT_READ
	}

	// Errors that lost their type on the way up, e.g. from database/sql.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
