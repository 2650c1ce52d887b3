package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/umts-sim/umts-sim/sim"
)

// TestHeap_TimestampOrdering tests that events are processed in timestamp order
func TestHeap_TimestampOrdering(t *testing.T) {
	h := NewHeap()
	var got []sim.Time

	h.Schedule(100, func(now sim.Time) { got = append(got, now) })
	h.Schedule(50, func(now sim.Time) { got = append(got, now) })
	h.Schedule(150, func(now sim.Time) { got = append(got, now) })

	h.Run(1000)

	assert.Equal(t, []sim.Time{50, 100, 150}, got)
	assert.Equal(t, 0, h.Pending())
}

// TestHeap_SameInstantFIFO tests same-timestamp events run in scheduling order
func TestHeap_SameInstantFIFO(t *testing.T) {
	h := NewHeap()
	var order []string
	for _, name := range []string{"slot", "interference", "aich", "uplink"} {
		name := name
		h.Schedule(10, func(sim.Time) { order = append(order, name) })
	}

	h.Run(10)

	assert.Equal(t, []string{"slot", "interference", "aich", "uplink"}, order)
}

func TestHeap_CancelPreventsExecution(t *testing.T) {
	// GIVEN two events, one cancelled
	h := NewHeap()
	fired := 0
	id := h.Schedule(10, func(sim.Time) { fired += 10 })
	h.Schedule(20, func(sim.Time) { fired++ })

	// WHEN the first is cancelled and the loop runs
	assert.True(t, h.Cancel(id))
	h.Run(100)

	// THEN only the second fires, and a second cancel reports false
	assert.Equal(t, 1, fired)
	assert.False(t, h.Cancel(id))
}

func TestHeap_RunStopsAtHorizon(t *testing.T) {
	h := NewHeap()
	fired := false
	h.Schedule(500, func(sim.Time) { fired = true })

	h.Run(100)

	assert.False(t, fired)
	assert.Equal(t, sim.Time(100), h.Now())
	assert.Equal(t, 1, h.Pending())
}

func TestHeap_EventsScheduledFromHandlers(t *testing.T) {
	h := NewHeap()
	var times []sim.Time
	var tick Handler
	tick = func(now sim.Time) {
		times = append(times, now)
		if len(times) < 3 {
			h.Schedule(5, tick)
		}
	}
	h.Schedule(0, tick)

	h.Run(100)

	assert.Equal(t, []sim.Time{0, 5, 10}, times)
}

func TestNew_SelectsKind(t *testing.T) {
	assert.IsType(t, &Heap{}, New(KindHeap))
	assert.IsType(t, &Heap{}, New(""))
	assert.IsType(t, &EvtmBackend{}, New(KindEvtm))
	assert.Panics(t, func() { New("calendar") })
	assert.True(t, IsValidKind("evtm"))
	assert.False(t, IsValidKind("calendar"))
}
