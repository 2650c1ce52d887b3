package rrc

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/codetree"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/packet"
	"github.com/umts-sim/umts-sim/sim/rlc"
)

// TerminalPhy is the part of the terminal physical layer resource control drives.
type TerminalPhy interface {
	Serving() sim.NodeID
	SetAllocation(codes []codetree.Code)
}

// UE is the terminal resource controller.
type UE struct {
	id    sim.NodeID
	cfg   Config
	sched engine.Scheduler
	lower Lower
	phy   TerminalPhy
	rng   sim.RandSource
	upper Upper

	flows map[sim.FlowID]*flow
	order []sim.FlowID
	seq   uint32
}

// NewUE creates the resource controller of terminal id.
func NewUE(id sim.NodeID, cfg Config, s engine.Scheduler, lower Lower, phy TerminalPhy, rng sim.RandSource) *UE {
	if err := cfg.Validate(); err != nil {
		panic("rrc.NewUE: " + err.Error())
	}
	if s == nil || lower == nil || phy == nil || rng == nil {
		panic("rrc.NewUE: collaborators must not be nil")
	}
	return &UE{
		id:    id,
		cfg:   cfg,
		sched: s,
		lower: lower,
		phy:   phy,
		rng:   rng,
		flows: make(map[sim.FlowID]*flow),
	}
}

// Bind sets the terminal manager. It may be called once.
func (u *UE) Bind(up Upper) {
	if u.upper != nil {
		panic("UE.Bind: upper layer already bound")
	}
	u.upper = up
}

// State returns the terminal state: Idle without flows, otherwise the most
// advanced state among its flows.
func (u *UE) State() State {
	s := StateIdle
	for _, f := range u.flows {
		if f.State > s {
			s = f.State
		}
	}
	return s
}

// Flow returns a flow's record.
func (u *UE) Flow(id sim.FlowID) (FlowInfo, bool) {
	if f, ok := u.flows[id]; ok {
		return f.FlowInfo, true
	}
	return FlowInfo{}, false
}

// Flows lists the flows in creation order.
func (u *UE) Flows() []FlowInfo {
	out := make([]FlowInfo, 0, len(u.order))
	for _, id := range u.order {
		out = append(out, u.flows[id].FlowInfo)
	}
	return out
}

func (u *UE) add(f *flow) {
	u.flows[f.Flow] = f
	u.order = append(u.order, f.Flow)
}

func (u *UE) forget(id sim.FlowID) {
	delete(u.flows, id)
	for i, o := range u.order {
		if o == id {
			u.order = append(u.order[:i], u.order[i+1:]...)
			return
		}
	}
}

// OpenFlow asks the serving station to admit an uplink flow. The flow becomes
// ready when the station's setup arrives; rejections are retried after the
// delay the station names.
func (u *UE) OpenFlow(app AppClass, rate float64) (sim.FlowID, error) {
	adm, err := Classify(app)
	if err != nil {
		return 0, err
	}
	if k := adm.Mode.Kind(); k == packet.KindBroadcast || k == packet.KindMulticast {
		return 0, fmt.Errorf("%w: %s", ErrGroupClass, app)
	}
	serving := u.phy.Serving()
	if serving == 0 {
		return 0, ErrNotAttached
	}
	u.seq++
	f := newFlow(u.sched, FlowInfo{
		Flow:      flowID(u.id, u.seq),
		Peer:      serving,
		App:       app,
		Rate:      rate,
		PhysRate:  PhysicalRate(rate, adm.Coding),
		Admission: adm,
		Uplink:    true,
		State:     StatePendingAccess,
	})
	u.add(f)
	u.request(f)
	return f.Flow, nil
}

func (u *UE) request(f *flow) {
	f.attempts++
	u.signal(f.Peer, ConnectionRequest{Flow: f.Flow, App: f.App, Rate: uint32(f.Rate)})
	f.timer.Reset(u.cfg.SetupTimeout, func(sim.Time) {
		if f.State != StatePendingAccess || u.flows[f.Flow] != f {
			return
		}
		if f.attempts >= u.cfg.MaxAttempts {
			u.release(f, "setup timeout")
			return
		}
		u.request(f)
	})
}

// Send queues one SDU on a ready flow.
func (u *UE) Send(id sim.FlowID, sdu []byte) bool {
	f, ok := u.flows[id]
	if !ok || !f.State.Ready() {
		return false
	}
	return u.lower.Send(f.Flow, f.Peer, sdu, u.sched.Now())
}

// CloseFlow ends a flow and tells the station.
func (u *UE) CloseFlow(id sim.FlowID) bool {
	f, ok := u.flows[id]
	if !ok {
		return false
	}
	if f.Peer != 0 && f.Peer == u.phy.Serving() {
		u.signal(f.Peer, Release{Flow: f.Flow})
	}
	u.release(f, "closed by terminal")
	return true
}

func (u *UE) release(f *flow, reason string) {
	f.timer.Stop()
	u.lower.RemoveFlow(f.key())
	u.forget(f.Flow)
	if f.Dedicated() && !u.holdsDedicated() {
		u.phy.SetAllocation(nil)
	}
	f.State = StateIdle
	logrus.Debugf("[tick %07d] rrc %d: flow %d released (%s)", u.sched.Now().Micros(), u.id, f.Flow, reason)
	u.upper.FlowClosed(f.FlowInfo, reason)
}

func (u *UE) holdsDedicated() bool {
	for _, f := range u.flows {
		if f.Dedicated() && f.State == StateActive {
			return true
		}
	}
	return false
}

// ConnectionLost releases every flow toward station without signalling. It
// returns the number released and is idempotent.
func (u *UE) ConnectionLost(station sim.NodeID) int {
	var lost []*flow
	for _, id := range u.order {
		if f := u.flows[id]; f.Peer == station {
			lost = append(lost, f)
		}
	}
	for _, f := range lost {
		u.release(f, "connection lost")
	}
	u.lower.RemovePeer(station)
	if len(lost) > 0 {
		logrus.Infof("[tick %07d] rrc %d: connection to %d lost, %d flows released", u.sched.Now().Micros(), u.id, station, len(lost))
	}
	return len(lost)
}

// Handover moves the terminal's flows from the station it left to the one it
// now camps on. Uplink flows are requested again from the new station;
// downlink flows end, since only their station can re-establish them.
func (u *UE) Handover(from sim.NodeID) []sim.FlowID {
	to := u.phy.Serving()
	var moved []sim.FlowID
	var dropped []*flow
	for _, id := range u.order {
		f := u.flows[id]
		if f.Peer != from {
			continue
		}
		if !f.Uplink || to == 0 {
			dropped = append(dropped, f)
			continue
		}
		f.timer.Stop()
		u.lower.RemoveFlow(f.key())
		f.Peer = to
		f.State = StatePendingAccess
		f.attempts = 0
		moved = append(moved, f.Flow)
	}
	for _, f := range dropped {
		u.release(f, "handover")
	}
	u.lower.RemovePeer(from)
	u.phy.SetAllocation(nil)
	for _, id := range moved {
		u.request(u.flows[id])
	}
	return moved
}

// ReceiveControl implements rlc.Upper.
func (u *UE) ReceiveControl(peer sim.NodeID, msg []byte, _ packet.Common) {
	m, err := Unmarshal(msg)
	if err != nil {
		logrus.Debugf("[tick %07d] rrc %d: from %d: %v", u.sched.Now().Micros(), u.id, peer, err)
		return
	}
	switch m := m.(type) {
	case ConnectionSetup:
		u.onSetup(peer, m)
	case Paging:
		u.onPaging(peer, m)
	case Release:
		if f, ok := u.flows[m.Flow]; ok && f.Peer == peer {
			u.release(f, "released by station")
		}
	case ReleaseAll:
		u.ConnectionLost(peer)
	default:
		logrus.Debugf("[tick %07d] rrc %d: unexpected %s from %d", u.sched.Now().Micros(), u.id, m.Type(), peer)
	}
}

func (u *UE) onSetup(peer sim.NodeID, m ConnectionSetup) {
	f, ok := u.flows[m.Flow]
	if !ok || f.Peer != peer {
		return
	}
	if !m.Accepted {
		if f.State != StatePendingAccess {
			// paged flows wait for the station to page again
			return
		}
		f.timer.Stop()
		switch {
		case m.RetryAfter == 0:
			u.release(f, "rejected")
		case f.attempts >= u.cfg.MaxAttempts:
			u.release(f, "no resources")
		default:
			// jitter keeps terminals rejected together from retrying together
			delay := m.RetryAfter + sim.Time(u.rng.Intn(int(u.cfg.RetryMin)))
			logrus.Debugf("[tick %07d] rrc %d: flow %d rejected, retry in %v", u.sched.Now().Micros(), u.id, f.Flow, delay)
			f.timer.Reset(delay, func(sim.Time) {
				if f.State == StatePendingAccess && u.flows[f.Flow] == f {
					u.request(f)
				}
			})
		}
		return
	}
	switch f.State {
	case StateActive:
		// reallocation after another flow changed the terminal's rate
		if f.Dedicated() {
			u.phy.SetAllocation(m.Codes)
		}
		return
	case StatePaged:
		f.State = StateResourceGranted
	case StatePendingAccess:
	default:
		return
	}
	f.timer.Stop()
	if f.Dedicated() {
		u.phy.SetAllocation(m.Codes)
	}
	if !u.lower.AddFlow(f.spec(u.id)) {
		logrus.Warnf("[tick %07d] rrc %d: flow %d already has an entity", u.sched.Now().Micros(), u.id, f.Flow)
	}
	f.State = StateActive
	f.attempts = 0
	u.upper.FlowReady(f.FlowInfo)
}

func (u *UE) onPaging(peer sim.NodeID, m Paging) {
	if f, ok := u.flows[m.Flow]; ok {
		if f.Peer == peer {
			u.signal(peer, PagingAck{Flow: f.Flow})
		}
		return
	}
	adm, err := Classify(m.App)
	if err != nil || !adm.Dedicated() {
		return
	}
	f := newFlow(u.sched, FlowInfo{
		Flow:      m.Flow,
		Peer:      peer,
		App:       m.App,
		Rate:      float64(m.Rate),
		PhysRate:  PhysicalRate(float64(m.Rate), adm.Coding),
		Admission: adm,
		State:     StatePaged,
	})
	u.add(f)
	u.signal(peer, PagingAck{Flow: f.Flow})
	// the station retries pagings itself; give up once it clearly stopped
	f.timer.Reset(u.cfg.SetupTimeout*sim.Time(u.cfg.MaxAttempts+1), func(sim.Time) {
		if f.State == StatePaged && u.flows[f.Flow] == f {
			u.release(f, "paging abandoned")
		}
	})
}

// ReceiveFromRlc implements rlc.Upper.
func (u *UE) ReceiveFromRlc(spec rlc.FlowSpec, sdu []byte, c packet.Common) {
	u.upper.Deliver(spec.Flow, spec.Peer, sdu, c)
}

// ResolveFlow implements rlc.Upper. Downlink unacknowledged and group traffic
// needs no signalling, so its receive entity is created on first contact.
func (u *UE) ResolveFlow(c packet.Common, peer sim.NodeID) (rlc.FlowSpec, bool) {
	spec := rlc.FlowSpec{Flow: c.Flow, Peer: peer, Class: c.Class, Src: sim.AddrOf(u.id), Dst: c.Src}
	switch c.Kind {
	case packet.KindBroadcast:
		spec.Mode = rlc.ModeBroadcast
	case packet.KindMulticast:
		spec.Mode = rlc.ModeMulticast
	case packet.KindCommon:
		spec.Mode = rlc.ModeUMFrag
	default:
		f, ok := u.flows[c.Flow]
		if !ok || f.Peer != peer || !f.State.Ready() {
			return rlc.FlowSpec{}, false
		}
		return f.spec(u.id), true
	}
	return spec, peer == u.phy.Serving()
}

// AccessFailed implements rlc.Upper. A signalling message lost to random
// access releases the flow waiting on it; lost data is left to the ARQ layer.
func (u *UE) AccessFailed(pkts []*packet.Packet) {
	for _, p := range pkts {
		if p.Ctrl.Common.MsgType != packet.MsgControl {
			continue
		}
		m, err := Unmarshal(p.Payload)
		if err != nil {
			continue
		}
		var id sim.FlowID
		switch m := m.(type) {
		case ConnectionRequest:
			id = m.Flow
		case PagingAck:
			id = m.Flow
		default:
			continue
		}
		if f, ok := u.flows[id]; ok && !f.State.Ready() {
			u.release(f, "access failed")
		}
	}
}

func (u *UE) signal(station sim.NodeID, m Message) {
	if !u.lower.SendControl(station, sim.AddrOf(station), Marshal(m)) {
		logrus.Debugf("[tick %07d] rrc %d: %s to %d not queued", u.sched.Now().Micros(), u.id, m.Type(), station)
	}
}
