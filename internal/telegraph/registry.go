package telegraph

import (
	"slices"
	"time"
)

// Registry is an insertion-ordered map from listener to delay.
//
// Both engines iterate listeners when delivering; a plain Go map would make
// delivery order random from run to run. Registry keeps registration order so
// deliveries within one tick are reproducible.
//
// Not safe for concurrent use; owners lock around it. Set expects a listener
// that passed ValidateListener; Get and Delete report absent for listeners
// that are not Comparable.
type Registry struct {
	entries []registration
	index   map[Telegraph]int
}

type registration struct {
	listener Telegraph
	delay    time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[Telegraph]int)}
}

// Set registers listener with delay, overwriting any previous delay.
// Overwriting keeps the listener's original position.
// Returns the previous delay and whether the listener was already present.
func (r *Registry) Set(listener Telegraph, delay time.Duration) (time.Duration, bool) {
	if i, ok := r.index[listener]; ok {
		prev := r.entries[i].delay
		r.entries[i].delay = delay
		return prev, true
	}
	r.index[listener] = len(r.entries)
	r.entries = append(r.entries, registration{listener: listener, delay: delay})
	return 0, false
}

// Delete removes listener. Returns its delay and whether it was present.
func (r *Registry) Delete(listener Telegraph) (time.Duration, bool) {
	if !Comparable(listener) {
		return 0, false
	}
	i, ok := r.index[listener]
	if !ok {
		return 0, false
	}
	delay := r.entries[i].delay
	r.entries = slices.Delete(r.entries, i, i+1)
	delete(r.index, listener)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].listener] = j
	}
	return delay, true
}

// Get returns the delay registered for listener.
func (r *Registry) Get(listener Telegraph) (time.Duration, bool) {
	if !Comparable(listener) {
		return 0, false
	}
	i, ok := r.index[listener]
	if !ok {
		return 0, false
	}
	return r.entries[i].delay, true
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Each calls fn for every listener in registration order.
func (r *Registry) Each(fn func(listener Telegraph, delay time.Duration)) {
	for _, e := range r.entries {
		fn(e.listener, e.delay)
	}
}

// Listeners returns the registered listeners in registration order.
func (r *Registry) Listeners() []Telegraph {
	out := make([]Telegraph, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.listener
	}
	return out
}
