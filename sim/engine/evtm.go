package engine

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"

	"github.com/umts-sim/umts-sim/sim"
)

// EvtmBackend runs the timeline on an iti/evt event manager.
// Cancellation is tracked locally: a cancelled event still pops from the
// manager's queue but its handler is skipped.
type EvtmBackend struct {
	mgr      *evtm.EventManager
	nextID   EventID
	handlers map[EventID]Handler
}

// NewEvtmBackend creates a backend with a fresh event manager.
func NewEvtmBackend() *EvtmBackend {
	return &EvtmBackend{
		mgr:      evtm.New(),
		handlers: make(map[EventID]Handler),
	}
}

// Now returns the manager's current time.
func (b *EvtmBackend) Now() sim.Time {
	return sim.Seconds(b.mgr.CurrentSeconds())
}

// Schedule queues fn on the event manager after delay.
func (b *EvtmBackend) Schedule(delay sim.Time, fn Handler) EventID {
	if fn == nil {
		panic("EvtmBackend.Schedule: fn must not be nil")
	}
	if delay < 0 {
		delay = 0
	}
	b.nextID++
	id := b.nextID
	b.handlers[id] = fn
	b.mgr.Schedule(b, id, dispatchEvtm, vrtime.SecondsToTime(delay.Seconds()))
	return id
}

// Cancel forgets the handler of a pending event.
func (b *EvtmBackend) Cancel(id EventID) bool {
	if _, ok := b.handlers[id]; !ok {
		return false
	}
	delete(b.handlers, id)
	return true
}

// Pending returns the number of live (uncancelled) events.
func (b *EvtmBackend) Pending() int {
	return len(b.handlers)
}

// Run drives the event manager up to horizon.
func (b *EvtmBackend) Run(horizon sim.Time) {
	b.mgr.Run(horizon.Seconds())
}

func dispatchEvtm(mgr *evtm.EventManager, context any, data any) any {
	b := context.(*EvtmBackend)
	id := data.(EventID)
	fn, ok := b.handlers[id]
	if !ok {
		return nil
	}
	delete(b.handlers, id)
	fn(b.Now())
	return nil
}
