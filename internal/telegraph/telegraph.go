// =============================================================================
// TELEGRAPH - THE RECEIVER CAPABILITY SHARED BY BOTH ENGINES
// =============================================================================
//
// WHAT IS A TELEGRAPH?
// A Telegraph is anything that can be told "a message with this tag arrived".
// Both dispatch engines (eventqueue and mailbox) deliver through this single
// method, synchronously, either from inside DispatchMessage (zero delay) or
// from inside Update (non-zero delay).
//
//   ┌────────────┐  DispatchMessage(tag)  ┌────────────┐  HandleMessage(tag)
//   │   Sender   │ ─────────────────────► │ Dispatcher │ ──────────────────►  Telegraph
//   └────────────┘                        └────────────┘
//                                               ▲
//                                               │ Update() (poll loop)
//
// IDENTITY:
// Listener identity is Go interface equality. Registering the same listener
// twice on the same tag overwrites its delay. Listeners are used as map keys,
// so their dynamic type must be comparable. AddListener rejects a value type
// holding a slice or map with ErrUncomparableListener; use pointer types.
//
// =============================================================================

package telegraph

import (
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Tag identifies a topic that messages are dispatched under.
type Tag int

// String implements fmt.Stringer.
func (t Tag) String() string {
	return fmt.Sprintf("tag-%d", int(t))
}

// Telegraph is the delivery sink for dispatched messages.
type Telegraph interface {
	HandleMessage(tag Tag)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNegativeDelay means a listener was registered with a delay below zero
	ErrNegativeDelay = errors.New("delay cannot be negative")

	// ErrNilListener means a nil Telegraph was passed as a listener
	ErrNilListener = errors.New("listener cannot be nil")

	// ErrUncomparableListener means the listener's dynamic type cannot be a
	// map key, so it has no identity to register under
	ErrUncomparableListener = errors.New("listener type is not comparable")
)

// ValidateListener checks the arguments common to every AddListener call.
func ValidateListener(listener Telegraph, delay time.Duration) error {
	if listener == nil {
		return ErrNilListener
	}
	if !Comparable(listener) {
		return fmt.Errorf("%w: %T", ErrUncomparableListener, listener)
	}
	if delay < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeDelay, delay)
	}
	return nil
}

// Comparable reports whether listener can be used as a registry key.
func Comparable(listener Telegraph) bool {
	return listener != nil && reflect.TypeOf(listener).Comparable()
}
