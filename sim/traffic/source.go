package traffic

import (
	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/rrc"
)

// Sender accepts application data on a flow. Both station and terminal
// managers satisfy it.
type Sender interface {
	Send(flow sim.FlowID, sdu []byte) bool
}

// Stats counts what a source generated.
type Stats struct {
	Sent    int // packets accepted by the flow
	Refused int // packets the flow could not take
	Bytes   int // bytes accepted
}

// Source emits fixed-size packets on one flow while the flow is ready. It
// implements the flow-lifecycle listener of the station managers.
type Source struct {
	sched   engine.Scheduler
	out     Sender
	sampler Sampler
	rng     sim.RandSource
	size    int
	stop    sim.Time // zero runs until the flow closes

	flow   sim.FlowID
	timer  *engine.Timer
	closed bool
	reason string
	stats  Stats
}

// NewSource creates a source that sends size-byte packets through out,
// spaced by sampler, until stop (zero for no limit).
func NewSource(s engine.Scheduler, out Sender, sampler Sampler, rng sim.RandSource, size int, stop sim.Time) *Source {
	if s == nil || out == nil || sampler == nil || rng == nil {
		panic("traffic.NewSource: collaborators must not be nil")
	}
	if size <= 0 {
		panic("traffic.NewSource: size must be positive")
	}
	return &Source{sched: s, out: out, sampler: sampler, rng: rng, size: size, stop: stop, timer: engine.NewTimer(s)}
}

// Stats returns the counters so far.
func (s *Source) Stats() Stats { return s.stats }

// Flow returns the flow the source last started on.
func (s *Source) Flow() sim.FlowID { return s.flow }

// Closed reports whether the flow was closed, and why.
func (s *Source) Closed() (bool, string) { return s.closed, s.reason }

// FlowReady starts emitting. A flow that becomes ready again (after a
// handover) keeps its schedule.
func (s *Source) FlowReady(info rrc.FlowInfo) {
	if s.closed || s.timer.Armed() {
		return
	}
	s.flow = info.Flow
	logrus.Debugf("[tick %07d] traffic: flow %d ready (%s, %.0f bit/s)", s.sched.Now().Micros(), info.Flow, info.App, info.Rate)
	s.emit(s.sched.Now())
}

// FlowClosed stops the source for good.
func (s *Source) FlowClosed(info rrc.FlowInfo, reason string) {
	s.closed = true
	s.reason = reason
	s.timer.Stop()
}

func (s *Source) emit(now sim.Time) {
	if s.stop > 0 && now >= s.stop {
		return
	}
	if s.out.Send(s.flow, make([]byte, s.size)) {
		s.stats.Sent++
		s.stats.Bytes += s.size
	} else {
		s.stats.Refused++
	}
	s.timer.Reset(s.sampler.Next(s.rng), s.emit)
}
