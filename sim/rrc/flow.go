package rrc

import (
	"fmt"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/packet"
	"github.com/umts-sim/umts-sim/sim/rlc"
)

// State is the signalling state of one flow. A terminal's overall state is
// derived from its flows: Idle with none, otherwise the most advanced one.
type State uint8

const (
	StateIdle State = iota
	StatePendingAccess
	StatePaged
	StateResourceGranted
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePendingAccess:
		return "PendingAccess"
	case StatePaged:
		return "Paged"
	case StateResourceGranted:
		return "ResourceGranted"
	case StateActive:
		return "Active"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Ready reports whether data may flow.
func (s State) Ready() bool { return s == StateActive }

// FlowInfo describes one flow as seen by resource control.
type FlowInfo struct {
	Flow     sim.FlowID
	Peer     sim.NodeID // zero for point-to-multipoint flows
	App      AppClass
	Rate     float64 // user bits per second
	PhysRate float64
	Admission
	Uplink  bool
	State   State
	Members []sim.NodeID
}

// Upper is the station manager above resource control.
type Upper interface {
	// Deliver hands up one received SDU.
	Deliver(flow sim.FlowID, peer sim.NodeID, sdu []byte, c packet.Common)
	// FlowReady reports that data may be sent on a flow.
	FlowReady(info FlowInfo)
	// FlowClosed reports that a flow ended or could not be set up.
	FlowClosed(info FlowInfo, reason string)
}

// Lower is the ARQ layer seen from resource control.
type Lower interface {
	AddFlow(spec rlc.FlowSpec) bool
	RemoveFlow(key rlc.Key) bool
	RemovePeer(peer sim.NodeID) int
	Send(flow sim.FlowID, peer sim.NodeID, sdu []byte, created sim.Time) bool
	SendControl(peer sim.NodeID, dst sim.Addr, msg []byte) bool
	SetDestinations(key rlc.Key, dsts []sim.NodeID) bool
}

// flow is the record both variants keep per flow.
type flow struct {
	FlowInfo
	attempts int
	timer    *engine.Timer
}

func (f *flow) key() rlc.Key {
	return rlc.Key{Flow: f.Flow, Peer: f.Peer}
}

func (f *flow) spec(local sim.NodeID) rlc.FlowSpec {
	spec := rlc.FlowSpec{
		Flow:  f.Flow,
		Peer:  f.Peer,
		Mode:  f.Mode,
		Class: f.Class,
		Src:   sim.AddrOf(local),
		Dst:   sim.AddrOf(f.Peer),
	}
	if f.Peer == 0 {
		spec.Dst = 0
		spec.Dsts = append([]sim.NodeID(nil), f.Members...)
	}
	return spec
}

// flowID makes flow identifiers unique per originating node.
func flowID(node sim.NodeID, seq uint32) sim.FlowID {
	return sim.FlowID(uint32(node)<<16 | seq&0xffff)
}

func newFlow(s engine.Scheduler, info FlowInfo) *flow {
	return &flow{FlowInfo: info, timer: engine.NewTimer(s)}
}

func retryDelay(cfg Config, rng sim.RandSource) sim.Time {
	span := int(cfg.RetryMax - cfg.RetryMin)
	if span <= 0 {
		return cfg.RetryMin
	}
	return cfg.RetryMin + sim.Time(rng.Intn(span+1))
}
