package engine

import (
	"container/heap"

	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
)

type event struct {
	at        sim.Time
	id        EventID
	fn        Handler
	index     int
	cancelled bool
}

// eventQueue implements heap.Interface with deterministic ordering.
// Order by: timestamp → event ID (scheduling order).
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].id < q[j].id
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	e := x.(*event)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[0 : n-1]
	return item
}

// Heap is a single-timeline event scheduler backed by a binary heap.
// Thread-safety: NOT thread-safe. All calls must come from the event loop.
type Heap struct {
	clock   sim.Time
	nextID  EventID
	queue   eventQueue
	pending map[EventID]*event
}

// NewHeap creates an empty scheduler at time zero.
func NewHeap() *Heap {
	h := &Heap{
		queue:   make(eventQueue, 0),
		pending: make(map[EventID]*event),
	}
	heap.Init(&h.queue)
	return h
}

// Now returns the current simulated time.
func (h *Heap) Now() sim.Time {
	return h.clock
}

// Schedule queues fn to run at Now()+delay. Negative delays are clamped to zero.
func (h *Heap) Schedule(delay sim.Time, fn Handler) EventID {
	if fn == nil {
		panic("Heap.Schedule: fn must not be nil")
	}
	if delay < 0 {
		delay = 0
	}
	h.nextID++
	e := &event{at: h.clock + delay, id: h.nextID, fn: fn}
	heap.Push(&h.queue, e)
	h.pending[e.id] = e
	return e.id
}

// Cancel removes a pending event from the queue.
func (h *Heap) Cancel(id EventID) bool {
	e, ok := h.pending[id]
	if !ok {
		return false
	}
	delete(h.pending, id)
	e.cancelled = true
	if e.index >= 0 {
		heap.Remove(&h.queue, e.index)
	}
	return true
}

// Pending returns the number of events still queued.
func (h *Heap) Pending() int {
	return len(h.pending)
}

// Step executes the next event. Returns false when the queue is empty.
func (h *Heap) Step() bool {
	if h.queue.Len() == 0 {
		return false
	}
	e := heap.Pop(&h.queue).(*event)
	delete(h.pending, e.id)
	h.clock = e.at
	e.fn(e.at)
	return true
}

// Run executes events in order until the queue is empty or the next event lies beyond horizon.
// The clock is left at min(last event, horizon).
func (h *Heap) Run(horizon sim.Time) {
	for h.queue.Len() > 0 {
		if h.queue[0].at > horizon {
			h.clock = horizon
			break
		}
		h.Step()
	}
	logrus.Debugf("[tick %07d] event loop stopped, %d events pending", h.clock.Micros(), h.Pending())
}
