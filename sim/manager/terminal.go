package manager

import (
	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/channel"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/metrics"
	"github.com/umts-sim/umts-sim/sim/packet"
	"github.com/umts-sim/umts-sim/sim/phy"
	"github.com/umts-sim/umts-sim/sim/rrc"
	"github.com/umts-sim/umts-sim/sim/trace"
)

// Terminal is the terminal-side manager. It tracks coverage, chooses the
// serving station and drives handover and connection-loss cleanup.
type Terminal struct {
	id      sim.NodeID
	cfg     Config
	sched   engine.Scheduler
	reg     *Registry
	phy     *phy.UE
	rrc     *rrc.UE
	metrics *metrics.Collector
	trace   *trace.SimulationTrace
	sink    Sink

	serving   *Station
	listeners listeners
	scan      *engine.Ticker
	sampler   *engine.Ticker

	handovers, losses int
}

// NewTerminal creates the manager of terminal id and binds it above the
// terminal's resource controller.
func NewTerminal(id sim.NodeID, cfg Config, s engine.Scheduler, reg *Registry, p *phy.UE, r *rrc.UE, m *metrics.Collector, tr *trace.SimulationTrace) *Terminal {
	if err := cfg.Validate(); err != nil {
		panic("manager.NewTerminal: " + err.Error())
	}
	if s == nil || reg == nil || p == nil || r == nil {
		panic("manager.NewTerminal: collaborators must not be nil")
	}
	t := &Terminal{
		id:        id,
		cfg:       cfg,
		sched:     s,
		reg:       reg,
		phy:       p,
		rrc:       r,
		metrics:   m,
		trace:     tr,
		listeners: make(listeners),
	}
	r.Bind(t)
	return t
}

// ID returns the terminal's node id.
func (t *Terminal) ID() sim.NodeID { return t.id }

// RRC returns the terminal's resource controller.
func (t *Terminal) RRC() *rrc.UE { return t.rrc }

// SetSink directs delivered downlink data to sink.
func (t *Terminal) SetSink(s Sink) { t.sink = s }

// Serving returns the serving station id, or zero when out of coverage.
func (t *Terminal) Serving() sim.NodeID {
	if t.serving == nil {
		return 0
	}
	return t.serving.id
}

// Handovers returns the number of station-to-station changes so far.
func (t *Terminal) Handovers() int { return t.handovers }

// Losses returns the number of coverage losses so far.
func (t *Terminal) Losses() int { return t.losses }

// Start scans for coverage immediately and then periodically.
func (t *Terminal) Start() {
	if t.scan.Running() {
		return
	}
	t.scan = engine.Every(t.sched, 0, t.cfg.ScanPeriod, t.Scan)
	t.sampler = engine.Every(t.sched, t.cfg.InterferencePeriod, t.cfg.InterferencePeriod, t.sampleInterference)
}

// Stop halts scanning and sampling.
func (t *Terminal) Stop() {
	t.scan.Stop()
	t.sampler.Stop()
}

// Scan re-evaluates coverage at now: it attaches, hands over, or declares the
// connection lost.
func (t *Terminal) Scan(now sim.Time) {
	cands := t.reg.Candidates(t.phy.Position(now), now)
	if len(cands) == 0 {
		if t.serving != nil {
			t.loseCoverage(now)
		}
		return
	}
	best := cands[0]
	if t.serving == nil {
		t.attach(now, best.ID)
		return
	}
	if best.ID == t.serving.id {
		return
	}
	current := -1.0
	for _, c := range cands {
		if c.ID == t.serving.id {
			current = c.Distance
		}
	}
	if current < 0 || best.Distance+t.cfg.Hysteresis < current {
		t.handover(now, best.ID)
	}
}

func (t *Terminal) attach(now sim.Time, id sim.NodeID) {
	st, ok := t.reg.Station(id)
	if !ok {
		return
	}
	st.Attach(t)
	t.serving = st
	t.trace.RecordHandover(trace.HandoverRecord{Terminal: uint32(t.id), To: uint32(id), Clock: now.Micros(), Reason: "attach"})
}

func (t *Terminal) handover(now sim.Time, id sim.NodeID) {
	st, ok := t.reg.Station(id)
	if !ok {
		return
	}
	from := t.serving
	from.Detach(t.id)
	st.Attach(t)
	t.serving = st
	moved := t.rrc.Handover(from.id)
	t.handovers++
	t.metrics.IncHandover()
	t.trace.RecordHandover(trace.HandoverRecord{Terminal: uint32(t.id), From: uint32(from.id), To: uint32(id), Clock: now.Micros(), Reason: "closer station"})
	logrus.Infof("[tick %07d] terminal %d: handover %d -> %d, %d flows moved", now.Micros(), t.id, from.id, id, len(moved))
}

func (t *Terminal) loseCoverage(now sim.Time) {
	from := t.serving
	t.serving = nil
	n := t.rrc.ConnectionLost(from.id)
	from.Detach(t.id)
	t.phy.Detach()
	t.losses++
	t.metrics.IncConnectionLoss()
	t.trace.RecordHandover(trace.HandoverRecord{Terminal: uint32(t.id), From: uint32(from.id), Clock: now.Micros(), Reason: "coverage lost"})
	logrus.Infof("[tick %07d] terminal %d: coverage of %d lost, %d flows released", now.Micros(), t.id, from.id, n)
}

// OpenFlow starts an uplink flow; l follows its lifecycle.
func (t *Terminal) OpenFlow(app rrc.AppClass, rate float64, l FlowListener) (sim.FlowID, error) {
	id, err := t.rrc.OpenFlow(app, rate)
	if err != nil {
		return 0, err
	}
	if l != nil {
		t.listeners[id] = l
	}
	return id, nil
}

// Send queues data on an uplink flow.
func (t *Terminal) Send(flow sim.FlowID, sdu []byte) bool { return t.rrc.Send(flow, sdu) }

// CloseFlow ends an uplink flow.
func (t *Terminal) CloseFlow(flow sim.FlowID) bool { return t.rrc.CloseFlow(flow) }

// Deliver implements rrc.Upper.
func (t *Terminal) Deliver(flow sim.FlowID, peer sim.NodeID, sdu []byte, c packet.Common) {
	if t.sink != nil {
		t.sink.Delivered(t.id, peer, flow, len(sdu), t.sched.Now()-c.Created)
	}
}

// FlowReady implements rrc.Upper.
func (t *Terminal) FlowReady(info rrc.FlowInfo) { t.listeners.ready(info) }

// FlowClosed implements rrc.Upper.
func (t *Terminal) FlowClosed(info rrc.FlowInfo, reason string) { t.listeners.closed(info, reason) }

// sampleInterference feeds the downlink power of other co-frequency stations
// into the terminal's physical layer.
func (t *Terminal) sampleInterference(now sim.Time) {
	if t.serving == nil {
		return
	}
	loss := t.serving.phy.Channel().Loss()
	for _, pid := range t.reg.Peers(t.serving.id) {
		st, ok := t.reg.Station(pid)
		if !ok {
			continue
		}
		dbm := channel.ReceivedPower(loss, now, st.phy, t.phy, st.phy.TransmitPower())
		t.phy.RecordInterference(sim.DBmToMilliwatt(dbm))
	}
}
