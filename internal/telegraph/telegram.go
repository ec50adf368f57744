package telegraph

import (
	"math"
	"time"
)

// =============================================================================
// TELEGRAMS
// =============================================================================
//
// A Telegram is what one dispatch carries besides its tag: who sent it and an
// optional payload. Every receiver of one dispatch sees the same telegram.
//
// Listeners opt in by implementing TelegramHandler. Plain Telegraphs keep
// receiving HandleMessage(tag) and never see the rest.
//
//   DispatchMessageFrom(sender, tag, info)
//        │
//        ▼
//   Deliver(listener, telegram)
//        ├── area check (both sides Located?) ── out of range ──► dropped
//        ├── TelegramHandler?  ──► HandleTelegram(telegram)
//        └── otherwise         ──► HandleMessage(tag)
//
// AREA OF INTEREST:
// A sender or listener that implements Located has a circular area. When the
// sender is Located, only Located listeners whose center lies inside the
// sender's radius receive. When the listener is Located too, the sender's
// center must also lie inside the listener's radius. Positions are read at
// delivery time, so an entity that moves while a delivery is queued is
// judged where it is when the delay expires.
//
// =============================================================================

// Telegram is one dispatched message.
type Telegram struct {
	Tag Tag

	// Sender is optional; nil for anonymous dispatches
	Sender Telegraph

	// ExtraInfo is an optional payload shared by every receiver
	ExtraInfo any

	// SentAt is when the message was dispatched
	SentAt time.Time
}

// TelegramHandler is implemented by listeners that want the whole telegram
// instead of just the tag.
type TelegramHandler interface {
	HandleTelegram(t Telegram)
}

// Point is a position in the plane.
type Point struct {
	X, Y float64
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Located is implemented by senders and listeners that have an area of
// interest.
type Located interface {
	Area() (center Point, radius float64)
}

// InRange reports whether a telegram from sender may reach listener.
func InRange(sender, listener Telegraph) bool {
	from, ok := sender.(Located)
	if !ok {
		return true
	}
	to, ok := listener.(Located)
	if !ok {
		return false
	}

	fromCenter, fromRadius := from.Area()
	toCenter, toRadius := to.Area()
	d := fromCenter.Distance(toCenter)
	return d <= fromRadius && d <= toRadius
}

// Deliver hands t to listener when it is in range of t.Sender. Reports
// whether a delivery was made.
func Deliver(listener Telegraph, t *Telegram) bool {
	if !InRange(t.Sender, listener) {
		return false
	}
	DeliverDirect(listener, t)
	return true
}

// DeliverDirect hands t to listener, ignoring areas.
func DeliverDirect(listener Telegraph, t *Telegram) {
	if h, ok := listener.(TelegramHandler); ok {
		h.HandleTelegram(*t)
		return
	}
	listener.HandleMessage(t.Tag)
}
