package bench

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/clock"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/config"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/eventqueue"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/mailbox"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/telegraph"
)

// =============================================================================
// ENGINE ABSTRACTION
// =============================================================================
//
// The two dispatchers differ in surface: the event queue has no notion of
// mailboxes and never fails a dispatch, the mailbox engine requires a mailbox
// per tag. Engine is the common surface the runner drives:
//
//   ┌────────────┐   AddListener / DispatchMessage / Update   ┌────────────┐
//   │   Runner   │ ──────────────────────────────────────────►│   Engine   │
//   └────────────┘                                            └─────┬──────┘
//                                                       ┌───────────┴──────────┐
//                                                 eventQueueEngine       mailboxEngine
//                                                 (eventqueue pkg)       (mailbox pkg, one
//                                                                         mailbox per tag)
//
// =============================================================================

// Engine is a delayed message dispatcher the runner can drive.
type Engine interface {
	Name() string
	AddListener(listener telegraph.Telegraph, tag telegraph.Tag, delay time.Duration) error
	RemoveListener(listener telegraph.Telegraph, tag telegraph.Tag) bool
	DispatchMessage(tag telegraph.Tag) error
	Update() int
	Pending() int
}

// EngineOptions configures engine construction.
type EngineOptions struct {
	Clock       clock.Clock
	Logger      *slog.Logger
	Metrics     *metrics.EngineMetrics
	DispatchLog *telegraph.DispatchLog

	// Tags get a mailbox up front (mailbox engine only)
	Tags []telegraph.Tag

	// MinScanInterval for the mailbox engine
	MinScanInterval time.Duration
}

// NewEngine builds the engine called name.
func NewEngine(name string, opts EngineOptions) (Engine, error) {
	switch name {
	case config.EngineEventQueue:
		return &eventQueueEngine{
			Dispatcher: eventqueue.New(eventqueue.Config{
				Clock:       opts.Clock,
				Logger:      opts.Logger,
				Metrics:     opts.Metrics,
				DispatchLog: opts.DispatchLog,
			}),
		}, nil

	case config.EngineMailbox:
		d := mailbox.New(mailbox.Config{
			Clock:           opts.Clock,
			Logger:          opts.Logger,
			Metrics:         opts.Metrics,
			DispatchLog:     opts.DispatchLog,
			MinScanInterval: opts.MinScanInterval,
		})
		for _, tag := range opts.Tags {
			d.AddMailbox(tag)
		}
		return &mailboxEngine{Dispatcher: d}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
}

// eventQueueEngine adapts eventqueue.Dispatcher.
type eventQueueEngine struct {
	*eventqueue.Dispatcher
}

func (e *eventQueueEngine) DispatchMessage(tag telegraph.Tag) error {
	e.Dispatcher.DispatchMessage(tag)
	return nil
}

// mailboxEngine adapts mailbox.Dispatcher. Tags without a mailbox get one on
// first registration.
type mailboxEngine struct {
	*mailbox.Dispatcher
}

func (e *mailboxEngine) AddListener(listener telegraph.Telegraph, tag telegraph.Tag, delay time.Duration) error {
	e.Dispatcher.AddMailbox(tag)
	return e.Dispatcher.AddListener(listener, tag, delay)
}
