package rrc

import (
	"math/rand"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/channel"
	"github.com/umts-sim/umts-sim/sim/codetree"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/packet"
	"github.com/umts-sim/umts-sim/sim/rlc"
	"github.com/umts-sim/umts-sim/sim/trace"
)

type controlSink interface {
	ReceiveControl(peer sim.NodeID, msg []byte, c packet.Common)
}

type sentMsg struct {
	to  sim.NodeID
	msg Message
}

// fakeLower stands in for the ARQ layer: it records entities and data, and
// carries signalling straight to the peer controller after one millisecond.
type fakeLower struct {
	sched  engine.Scheduler
	self   sim.NodeID
	peers  map[sim.NodeID]controlSink
	flows  map[rlc.Key]rlc.FlowSpec
	sent   []sentMsg
	data   map[sim.FlowID]int
	drop   func(Message) bool
	failed []*packet.Packet
}

func newFakeLower(s engine.Scheduler, self sim.NodeID) *fakeLower {
	return &fakeLower{
		sched: s,
		self:  self,
		peers: make(map[sim.NodeID]controlSink),
		flows: make(map[rlc.Key]rlc.FlowSpec),
		data:  make(map[sim.FlowID]int),
	}
}

func (l *fakeLower) AddFlow(spec rlc.FlowSpec) bool {
	k := rlc.Key{Flow: spec.Flow, Peer: spec.Peer}
	if _, ok := l.flows[k]; ok {
		return false
	}
	l.flows[k] = spec
	return true
}

func (l *fakeLower) RemoveFlow(k rlc.Key) bool {
	_, ok := l.flows[k]
	delete(l.flows, k)
	return ok
}

func (l *fakeLower) RemovePeer(peer sim.NodeID) int {
	n := 0
	for k := range l.flows {
		if k.Peer == peer {
			delete(l.flows, k)
			n++
		}
	}
	return n
}

func (l *fakeLower) Send(flow sim.FlowID, _ sim.NodeID, _ []byte, _ sim.Time) bool {
	l.data[flow]++
	return true
}

func (l *fakeLower) SendControl(peer sim.NodeID, _ sim.Addr, msg []byte) bool {
	m, err := Unmarshal(msg)
	if err != nil {
		panic(err)
	}
	l.sent = append(l.sent, sentMsg{to: peer, msg: m})
	if l.drop != nil && l.drop(m) {
		return true
	}
	if sink, ok := l.peers[peer]; ok {
		from := l.self
		l.sched.Schedule(sim.Millisecond, func(sim.Time) { sink.ReceiveControl(from, msg, packet.Common{}) })
	}
	return true
}

func (l *fakeLower) SetDestinations(k rlc.Key, dsts []sim.NodeID) bool {
	spec, ok := l.flows[k]
	if !ok {
		return false
	}
	spec.Dsts = dsts
	l.flows[k] = spec
	return true
}

func (l *fakeLower) count(t MessageType, to sim.NodeID) int {
	n := 0
	for _, s := range l.sent {
		if s.msg.Type() == t && s.to == to {
			n++
		}
	}
	return n
}

type stationPhy struct {
	bound       map[sim.NodeID]bool
	alloc       map[sim.NodeID][]codetree.Code
	unreachable map[sim.NodeID]bool
	rates       map[sim.NodeID]float64
}

func (p *stationPhy) BindDedicated(ue sim.NodeID) *channel.Dedicated {
	if p.unreachable[ue] {
		return nil
	}
	p.bound[ue] = true
	return &channel.Dedicated{}
}

func (p *stationPhy) UnbindDedicated(ue sim.NodeID) {
	delete(p.bound, ue)
	delete(p.alloc, ue)
}

func (p *stationPhy) SetAllocation(ue sim.NodeID, codes []codetree.Code) { p.alloc[ue] = codes }
func (p *stationPhy) LastRate(ue sim.NodeID) float64                     { return p.rates[ue] }

type terminalPhy struct {
	serving sim.NodeID
	codes   []codetree.Code
}

func (p *terminalPhy) Serving() sim.NodeID                 { return p.serving }
func (p *terminalPhy) SetAllocation(codes []codetree.Code) { p.codes = codes }

type closedFlow struct {
	info   FlowInfo
	reason string
}

type recorder struct {
	ready     []FlowInfo
	closed    []closedFlow
	delivered int
}

func (r *recorder) Deliver(sim.FlowID, sim.NodeID, []byte, packet.Common) { r.delivered++ }
func (r *recorder) FlowReady(info FlowInfo)                               { r.ready = append(r.ready, info) }
func (r *recorder) FlowClosed(info FlowInfo, reason string) {
	r.closed = append(r.closed, closedFlow{info, reason})
}

type terminalSide struct {
	rrc   *UE
	lower *fakeLower
	phy   *terminalPhy
	up    *recorder
}

type harness struct {
	sched   *engine.Heap
	station *NodeB
	lower   *fakeLower
	phy     *stationPhy
	up      *recorder
	trace   *trace.SimulationTrace
	ues     map[sim.NodeID]*terminalSide
}

const stationID sim.NodeID = 1

func newHarness(cfg Config, ues ...sim.NodeID) *harness {
	h := &harness{
		sched: engine.NewHeap(),
		phy:   &stationPhy{bound: map[sim.NodeID]bool{}, alloc: map[sim.NodeID][]codetree.Code{}, unreachable: map[sim.NodeID]bool{}},
		up:    &recorder{},
		trace: trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions}),
		ues:   make(map[sim.NodeID]*terminalSide),
	}
	h.lower = newFakeLower(h.sched, stationID)
	h.station = NewNodeB(stationID, cfg, h.sched, h.lower, h.phy, rand.New(rand.NewSource(1)), nil, h.trace)
	h.station.Bind(h.up)
	for _, id := range ues {
		ts := &terminalSide{lower: newFakeLower(h.sched, id), phy: &terminalPhy{serving: stationID}, up: &recorder{}}
		ts.rrc = NewUE(id, cfg, h.sched, ts.lower, ts.phy, rand.New(rand.NewSource(int64(id))))
		ts.rrc.Bind(ts.up)
		ts.lower.peers[stationID] = h.station
		h.lower.peers[id] = ts.rrc
		h.station.AddTerminal(id)
		h.ues[id] = ts
	}
	return h
}

// webRate needs one SF64 code under turbo coding.
const webRate = 30000
