package rrc

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/channel"
	"github.com/umts-sim/umts-sim/sim/codetree"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/metrics"
	"github.com/umts-sim/umts-sim/sim/packet"
	"github.com/umts-sim/umts-sim/sim/rlc"
	"github.com/umts-sim/umts-sim/sim/trace"
)

var (
	// ErrNotAttached is returned when a flow is opened toward an unknown peer.
	ErrNotAttached = errors.New("rrc: peer not attached")
	// ErrGroupClass is returned when a point-to-point call names a broadcast or
	// multicast class, or the reverse.
	ErrGroupClass = errors.New("rrc: application class does not match flow type")
)

// StationPhy is the part of the base-station physical layer resource control drives.
type StationPhy interface {
	BindDedicated(ue sim.NodeID) *channel.Dedicated
	UnbindDedicated(ue sim.NodeID)
	SetAllocation(ue sim.NodeID, codes []codetree.Code)
	LastRate(ue sim.NodeID) float64
}

type terminal struct {
	id    sim.NodeID
	flows map[sim.FlowID]*flow
	order []sim.FlowID
	rate  float64 // physical rate of the granted dedicated flows
	sf    int
	codes int
}

func (t *terminal) add(f *flow) {
	t.flows[f.Flow] = f
	t.order = append(t.order, f.Flow)
}

func (t *terminal) remove(id sim.FlowID) {
	delete(t.flows, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// NodeB is the base-station resource controller. It owns the code tree.
type NodeB struct {
	id      sim.NodeID
	cfg     Config
	sched   engine.Scheduler
	lower   Lower
	phy     StationPhy
	tree    *codetree.Tree
	rng     sim.RandSource
	metrics *metrics.Collector
	trace   *trace.SimulationTrace
	upper   Upper

	terminals map[sim.NodeID]*terminal
	groups    map[sim.FlowID]*flow
	groupIDs  []sim.FlowID
	seq       uint32
}

// NewNodeB creates the resource controller of station id.
func NewNodeB(id sim.NodeID, cfg Config, s engine.Scheduler, lower Lower, phy StationPhy, rng sim.RandSource, m *metrics.Collector, tr *trace.SimulationTrace) *NodeB {
	if err := cfg.Validate(); err != nil {
		panic("rrc.NewNodeB: " + err.Error())
	}
	if s == nil || lower == nil || phy == nil || rng == nil {
		panic("rrc.NewNodeB: collaborators must not be nil")
	}
	return &NodeB{
		id:        id,
		cfg:       cfg,
		sched:     s,
		lower:     lower,
		phy:       phy,
		tree:      codetree.New(cfg.MaxSF),
		rng:       rng,
		metrics:   m,
		trace:     tr,
		terminals: make(map[sim.NodeID]*terminal),
		groups:    make(map[sim.FlowID]*flow),
	}
}

// Bind sets the station manager. It may be called once.
func (b *NodeB) Bind(u Upper) {
	if b.upper != nil {
		panic("NodeB.Bind: upper layer already bound")
	}
	b.upper = u
}

// Tree exposes the code tree for inspection.
func (b *NodeB) Tree() *codetree.Tree { return b.tree }

// ResourceBitmap packs the free codes at the reporting factor for the resource broadcast.
func (b *NodeB) ResourceBitmap() []byte {
	return codetree.PackBitmap(b.tree.FreeBitmap(b.cfg.BitmapSF))
}

// AddTerminal starts tracking an attached terminal. Adding twice is a no-op.
func (b *NodeB) AddTerminal(ue sim.NodeID) {
	b.terminalFor(ue)
}

// HasTerminal reports whether ue is attached.
func (b *NodeB) HasTerminal(ue sim.NodeID) bool {
	_, ok := b.terminals[ue]
	return ok
}

// Allocation returns the codes ue currently holds.
func (b *NodeB) Allocation(ue sim.NodeID) []codetree.Code {
	return b.tree.Owned(ue)
}

func sortedIDs[V any](m map[sim.NodeID]V) []sim.NodeID {
	ids := make([]sim.NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (b *NodeB) terminalFor(ue sim.NodeID) *terminal {
	t, ok := b.terminals[ue]
	if !ok {
		t = &terminal{id: ue, flows: make(map[sim.FlowID]*flow)}
		b.terminals[ue] = t
	}
	return t
}

// Flow returns a flow's record.
func (b *NodeB) Flow(id sim.FlowID) (FlowInfo, bool) {
	if f := b.lookup(id); f != nil {
		return f.FlowInfo, true
	}
	return FlowInfo{}, false
}

// Flows lists every flow, per terminal in admission order, then group flows.
func (b *NodeB) Flows() []FlowInfo {
	var out []FlowInfo
	for _, ue := range sortedIDs(b.terminals) {
		t := b.terminals[ue]
		for _, id := range t.order {
			out = append(out, t.flows[id].FlowInfo)
		}
	}
	for _, id := range b.groupIDs {
		out = append(out, b.groups[id].FlowInfo)
	}
	return out
}

func (b *NodeB) lookup(id sim.FlowID) *flow {
	if f, ok := b.groups[id]; ok {
		return f
	}
	for _, t := range b.terminals {
		if f, ok := t.flows[id]; ok {
			return f
		}
	}
	return nil
}

func (b *NodeB) nextFlowID() sim.FlowID {
	b.seq++
	return flowID(b.id, b.seq)
}

// OpenFlow starts a downlink flow toward ue. Acknowledged-mode flows page the
// terminal first and become ready once it answers and codes are granted;
// unacknowledged flows are ready at once.
func (b *NodeB) OpenFlow(ue sim.NodeID, app AppClass, rate float64) (sim.FlowID, error) {
	adm, err := Classify(app)
	if err != nil {
		return 0, err
	}
	if adm.Mode.Kind() == packet.KindBroadcast || adm.Mode.Kind() == packet.KindMulticast {
		return 0, fmt.Errorf("%w: %s", ErrGroupClass, app)
	}
	t, ok := b.terminals[ue]
	if !ok {
		return 0, fmt.Errorf("%w: terminal %d", ErrNotAttached, ue)
	}
	f := newFlow(b.sched, FlowInfo{
		Flow:      b.nextFlowID(),
		Peer:      ue,
		App:       app,
		Rate:      rate,
		PhysRate:  PhysicalRate(rate, adm.Coding),
		Admission: adm,
	})
	t.add(f)
	if adm.Dedicated() {
		f.State = StatePaged
		b.page(f)
		return f.Flow, nil
	}
	b.activate(t, f)
	return f.Flow, nil
}

func (b *NodeB) page(f *flow) {
	f.attempts++
	logrus.Debugf("[tick %07d] rrc %d: paging terminal %d for flow %d (attempt %d)", b.sched.Now().Micros(), b.id, f.Peer, f.Flow, f.attempts)
	b.signal(f.Peer, Paging{Flow: f.Flow, App: f.App, Rate: uint32(f.Rate)})
	f.timer.Reset(b.cfg.SetupTimeout, func(sim.Time) { b.retryPaging(f) })
}

func (b *NodeB) retryPaging(f *flow) {
	if f.State != StatePaged || b.lookup(f.Flow) != f {
		return
	}
	if f.attempts >= b.cfg.MaxAttempts {
		b.closeFlow(f, "paging unanswered", true)
		return
	}
	b.page(f)
}

// OpenGroup starts a broadcast or multicast flow to members.
func (b *NodeB) OpenGroup(app AppClass, rate float64, members []sim.NodeID) (sim.FlowID, error) {
	adm, err := Classify(app)
	if err != nil {
		return 0, err
	}
	if adm.Mode.Kind() != packet.KindBroadcast && adm.Mode.Kind() != packet.KindMulticast {
		return 0, fmt.Errorf("%w: %s", ErrGroupClass, app)
	}
	f := newFlow(b.sched, FlowInfo{
		Flow:      b.nextFlowID(),
		App:       app,
		Rate:      rate,
		PhysRate:  PhysicalRate(rate, adm.Coding),
		Admission: adm,
		Members:   append([]sim.NodeID(nil), members...),
		State:     StateActive,
	})
	if !b.lower.AddFlow(f.spec(b.id)) {
		return 0, fmt.Errorf("rrc: flow %d already exists", f.Flow)
	}
	b.groups[f.Flow] = f
	b.groupIDs = append(b.groupIDs, f.Flow)
	b.record(f, true, "group")
	b.upper.FlowReady(f.FlowInfo)
	return f.Flow, nil
}

// SetMembers replaces the receiver set of a multicast flow.
func (b *NodeB) SetMembers(id sim.FlowID, members []sim.NodeID) bool {
	f, ok := b.groups[id]
	if !ok {
		return false
	}
	f.Members = append([]sim.NodeID(nil), members...)
	if f.Mode.Kind() == packet.KindMulticast {
		b.lower.SetDestinations(f.key(), f.Members)
	}
	return true
}

// Send queues one SDU on a ready flow. peer is ignored for group flows.
func (b *NodeB) Send(id sim.FlowID, sdu []byte) bool {
	f := b.lookup(id)
	if f == nil || !f.State.Ready() {
		return false
	}
	return b.lower.Send(f.Flow, f.Peer, sdu, b.sched.Now())
}

// CloseFlow ends a flow and tells the terminal.
func (b *NodeB) CloseFlow(id sim.FlowID) bool {
	f := b.lookup(id)
	if f == nil {
		return false
	}
	b.closeFlow(f, "closed by station", true)
	return true
}

func (b *NodeB) closeFlow(f *flow, reason string, notifyPeer bool) {
	f.timer.Stop()
	b.lower.RemoveFlow(f.key())
	if f.Peer == 0 {
		delete(b.groups, f.Flow)
		for i, id := range b.groupIDs {
			if id == f.Flow {
				b.groupIDs = append(b.groupIDs[:i], b.groupIDs[i+1:]...)
				break
			}
		}
	} else if t, ok := b.terminals[f.Peer]; ok {
		t.remove(f.Flow)
		if f.Dedicated() && f.State == StateActive {
			t.rate = 0
			for _, id := range t.order {
				if g := t.flows[id]; g.Dedicated() && g.State == StateActive {
					t.rate += g.PhysRate
				}
			}
			b.reshape(t)
		}
		if notifyPeer {
			b.signal(f.Peer, Release{Flow: f.Flow})
		}
	}
	prev := f.State
	f.State = StateIdle
	logrus.Debugf("[tick %07d] rrc %d: flow %d closed (%s, was %s)", b.sched.Now().Micros(), b.id, f.Flow, reason, prev)
	b.upper.FlowClosed(f.FlowInfo, reason)
}

// TerminalLost releases everything held for ue without signalling it. It
// returns the number of flows released and is idempotent.
func (b *NodeB) TerminalLost(ue sim.NodeID) int {
	t, ok := b.terminals[ue]
	if !ok {
		return 0
	}
	delete(b.terminals, ue)
	b.lower.RemovePeer(ue)
	if b.tree.FreeAll(ue) > 0 {
		b.reportUtilization()
	}
	b.phy.UnbindDedicated(ue)
	for _, g := range b.groupIDs {
		f := b.groups[g]
		if i := slices.Index(f.Members, ue); i >= 0 {
			b.SetMembers(g, append(append([]sim.NodeID(nil), f.Members[:i]...), f.Members[i+1:]...))
		}
	}
	for _, id := range t.order {
		f := t.flows[id]
		f.timer.Stop()
		f.State = StateIdle
		b.upper.FlowClosed(f.FlowInfo, "connection lost")
	}
	logrus.Infof("[tick %07d] rrc %d: terminal %d lost, %d flows released", b.sched.Now().Micros(), b.id, ue, len(t.order))
	return len(t.order)
}

// Detach tells ue that every flow is released, then cleans up as TerminalLost.
func (b *NodeB) Detach(ue sim.NodeID) int {
	if !b.HasTerminal(ue) {
		return 0
	}
	b.signal(ue, ReleaseAll{})
	return b.TerminalLost(ue)
}

// ReceiveControl implements rlc.Upper.
func (b *NodeB) ReceiveControl(peer sim.NodeID, msg []byte, _ packet.Common) {
	m, err := Unmarshal(msg)
	if err != nil {
		logrus.Debugf("[tick %07d] rrc %d: from %d: %v", b.sched.Now().Micros(), b.id, peer, err)
		return
	}
	switch m := m.(type) {
	case ConnectionRequest:
		b.onRequest(peer, m)
	case PagingAck:
		b.onPagingAck(peer, m)
	case Release:
		if t, ok := b.terminals[peer]; ok {
			if f, ok := t.flows[m.Flow]; ok {
				b.closeFlow(f, "released by terminal", false)
			}
		}
	case ReleaseAll:
		b.TerminalLost(peer)
	default:
		logrus.Debugf("[tick %07d] rrc %d: unexpected %s from %d", b.sched.Now().Micros(), b.id, m.Type(), peer)
	}
}

func (b *NodeB) onRequest(ue sim.NodeID, m ConnectionRequest) {
	t := b.terminalFor(ue)
	if f, ok := t.flows[m.Flow]; ok {
		if f.State == StateActive {
			// the setup was lost; repeat it
			b.signal(ue, ConnectionSetup{Flow: f.Flow, Accepted: true, Codes: b.dedicatedCodes(f)})
		}
		return
	}
	adm, err := Classify(m.App)
	if err != nil || !b.pointToPoint(adm) {
		b.signal(ue, ConnectionSetup{Flow: m.Flow})
		b.metrics.IncAdmission(false)
		return
	}
	f := newFlow(b.sched, FlowInfo{
		Flow:      m.Flow,
		Peer:      ue,
		App:       m.App,
		Rate:      float64(m.Rate),
		PhysRate:  PhysicalRate(float64(m.Rate), adm.Coding),
		Admission: adm,
		Uplink:    true,
		State:     StatePendingAccess,
	})
	if ok, reason := b.grant(t, f); !ok {
		b.signal(ue, ConnectionSetup{Flow: f.Flow, RetryAfter: retryDelay(b.cfg, b.rng)})
		logrus.Debugf("[tick %07d] rrc %d: flow %d from %d rejected: %s", b.sched.Now().Micros(), b.id, f.Flow, ue, reason)
		return
	}
	t.add(f)
	b.activate(t, f)
}

func (b *NodeB) onPagingAck(ue sim.NodeID, m PagingAck) {
	t, ok := b.terminals[ue]
	var f *flow
	if ok {
		f = t.flows[m.Flow]
	}
	switch {
	case f == nil:
		b.signal(ue, Release{Flow: m.Flow})
		return
	case f.State == StateActive:
		b.signal(ue, ConnectionSetup{Flow: f.Flow, Accepted: true, Codes: b.dedicatedCodes(f)})
		return
	case f.State != StatePaged:
		return
	}
	f.timer.Stop()
	f.State = StateResourceGranted
	if ok, reason := b.grant(t, f); !ok {
		f.State = StatePaged
		delay := retryDelay(b.cfg, b.rng)
		b.signal(ue, ConnectionSetup{Flow: f.Flow, RetryAfter: delay})
		logrus.Debugf("[tick %07d] rrc %d: flow %d to %d deferred: %s", b.sched.Now().Micros(), b.id, f.Flow, ue, reason)
		if f.attempts >= b.cfg.MaxAttempts {
			b.closeFlow(f, "no resources", true)
			return
		}
		f.timer.Reset(delay, func(sim.Time) {
			if f.State == StatePaged && b.lookup(f.Flow) == f {
				b.page(f)
			}
		})
		return
	}
	b.activate(t, f)
}

func (b *NodeB) pointToPoint(adm Admission) bool {
	k := adm.Mode.Kind()
	return k != packet.KindBroadcast && k != packet.KindMulticast
}

// activate creates the ARQ entity of an admitted flow and confirms it.
func (b *NodeB) activate(t *terminal, f *flow) {
	f.State = StateActive
	f.attempts = 0
	if !b.lower.AddFlow(f.spec(b.id)) {
		logrus.Warnf("[tick %07d] rrc %d: flow %d already has an entity", b.sched.Now().Micros(), b.id, f.Flow)
	}
	if f.Dedicated() || f.Uplink {
		b.signal(t.id, ConnectionSetup{Flow: f.Flow, Accepted: true, Codes: b.dedicatedCodes(f)})
	}
	if !f.Dedicated() {
		b.record(f, true, "common channel")
	}
	b.upper.FlowReady(f.FlowInfo)
}

func (b *NodeB) dedicatedCodes(f *flow) []codetree.Code {
	if !f.Dedicated() {
		return nil
	}
	return b.tree.Owned(f.Peer)
}

// grant reserves codes for f on top of what the terminal already holds. A
// terminal's codes are recomputed from its total rate; if the new set cannot
// be allocated the previous codes are restored exactly.
func (b *NodeB) grant(t *terminal, f *flow) (bool, string) {
	if !f.Dedicated() {
		return true, ""
	}
	total := t.rate + f.PhysRate
	sf, n, ok := b.cfg.Codes(total)
	if !ok {
		b.record(f, false, "rate above multi-code limit")
		return false, "rate above multi-code limit"
	}
	prev := b.tree.Owned(t.id)
	prevSF, prevN := t.sf, t.codes
	if sf != t.sf || n != t.codes {
		if !b.reallocate(t, sf, n, prev) {
			b.record(f, false, "no free code")
			return false, "no free code"
		}
	}
	if b.phy.BindDedicated(t.id) == nil {
		b.tree.FreeAll(t.id)
		b.restore(t, prev)
		t.sf, t.codes = prevSF, prevN
		b.record(f, false, "terminal unreachable")
		return false, "terminal unreachable"
	}
	t.rate = total
	b.phy.SetAllocation(t.id, b.tree.Owned(t.id))
	b.reportUtilization()
	b.record(f, true, "granted")
	return true, ""
}

func (b *NodeB) reallocate(t *terminal, sf, n int, prev []codetree.Code) bool {
	b.tree.FreeAll(t.id)
	got := 0
	for got < n && b.tree.Allocate(t.id, sf) {
		got++
	}
	if got < n {
		b.tree.FreeAll(t.id)
		b.restore(t, prev)
		return false
	}
	t.sf, t.codes = sf, n
	return true
}

func (b *NodeB) restore(t *terminal, codes []codetree.Code) {
	for _, c := range codes {
		if !b.tree.Reserve(t.id, c) {
			logrus.Errorf("rrc %d: could not restore %s for terminal %d", b.id, c, t.id)
		}
	}
}

// reshape shrinks a terminal's codes after a dedicated flow ends and tells
// the terminal its new allocation.
func (b *NodeB) reshape(t *terminal) {
	if t.rate <= 0 {
		t.rate, t.sf, t.codes = 0, 0, 0
		b.tree.FreeAll(t.id)
		b.phy.UnbindDedicated(t.id)
		b.reportUtilization()
		return
	}
	sf, n, ok := b.cfg.Codes(t.rate)
	if !ok || (sf == t.sf && n == t.codes) {
		return
	}
	if !b.reallocate(t, sf, n, b.tree.Owned(t.id)) {
		return
	}
	codes := b.tree.Owned(t.id)
	b.phy.SetAllocation(t.id, codes)
	b.reportUtilization()
	for _, id := range t.order {
		if f := t.flows[id]; f.Dedicated() && f.State == StateActive {
			b.signal(t.id, ConnectionSetup{Flow: f.Flow, Accepted: true, Codes: codes})
			break
		}
	}
}

func (b *NodeB) reportUtilization() {
	b.metrics.SetCodeUtilization(fmt.Sprint(b.id), 1-b.tree.Capacity())
}

func (b *NodeB) record(f *flow, admitted bool, reason string) {
	b.metrics.IncAdmission(admitted)
	sf := 0
	codes := 0
	rate := 0.0
	if f.Peer != 0 {
		rate = b.phy.LastRate(f.Peer)
	}
	if f.Dedicated() && f.Peer != 0 {
		if t, ok := b.terminals[f.Peer]; ok && admitted {
			sf = t.sf
		}
		codes = len(b.tree.Owned(f.Peer))
	}
	b.trace.RecordAdmission(trace.AdmissionRecord{
		Flow:     uint32(f.Flow),
		Terminal: uint32(f.Peer),
		Station:  uint32(b.id),
		Clock:    b.sched.Now().Micros(),
		Admitted: admitted,
		SF:       sf,
		Codes:    codes,
		Rate:     rate,
		Reason:   reason,
	})
}

func (b *NodeB) signal(ue sim.NodeID, m Message) {
	if !b.lower.SendControl(ue, sim.AddrOf(ue), Marshal(m)) {
		logrus.Debugf("[tick %07d] rrc %d: %s to %d not queued", b.sched.Now().Micros(), b.id, m.Type(), ue)
	}
}

// ReceiveFromRlc implements rlc.Upper.
func (b *NodeB) ReceiveFromRlc(spec rlc.FlowSpec, sdu []byte, c packet.Common) {
	b.upper.Deliver(spec.Flow, spec.Peer, sdu, c)
}

// ResolveFlow implements rlc.Upper. Every uplink flow is set up by signalling,
// so unknown flows are refused.
func (b *NodeB) ResolveFlow(packet.Common, sim.NodeID) (rlc.FlowSpec, bool) {
	return rlc.FlowSpec{}, false
}

// AccessFailed implements rlc.Upper. Stations never run random access.
func (b *NodeB) AccessFailed([]*packet.Packet) {}
