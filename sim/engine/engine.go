// Package engine provides the discrete-event clock every protocol layer runs on.
//
// There is exactly one ordered timeline per simulation. Events scheduled for the
// same instant execute in the order they were scheduled. Nothing blocks: every
// wait is a future event, and any pending event can be cancelled.
package engine

import "github.com/umts-sim/umts-sim/sim"

// Handler is the callback run when an event fires. now is the event's timestamp.
type Handler func(now sim.Time)

// EventID identifies a scheduled event for cancellation. Zero is never issued.
type EventID uint64

// Scheduler is the clock capability consumed by the protocol layers.
type Scheduler interface {
	// Now returns the current simulated time.
	Now() sim.Time
	// Schedule runs fn after delay (>= 0) and returns a handle for Cancel.
	Schedule(delay sim.Time, fn Handler) EventID
	// Cancel removes a pending event. Returns false if it already fired or was cancelled.
	Cancel(id EventID) bool
}

// Runner is a Scheduler that also owns the event loop.
type Runner interface {
	Scheduler
	// Run executes events in time order until none remain or the next one lies beyond horizon.
	Run(horizon sim.Time)
	// Pending returns the number of events still queued.
	Pending() int
}

// Kind selects a Runner implementation.
type Kind string

const (
	// KindHeap is the built-in binary-heap event queue (default).
	KindHeap Kind = "heap"
	// KindEvtm runs the timeline on the iti/evt event manager.
	KindEvtm Kind = "evtm"
)

// IsValidKind reports whether k names a known runner. Empty selects the default.
func IsValidKind(k string) bool {
	switch Kind(k) {
	case "", KindHeap, KindEvtm:
		return true
	}
	return false
}

// New returns a Runner of the requested kind.
func New(k Kind) Runner {
	switch k {
	case KindEvtm:
		return NewEvtmBackend()
	case "", KindHeap:
		return NewHeap()
	}
	panic("engine.New: unknown kind " + string(k))
}
