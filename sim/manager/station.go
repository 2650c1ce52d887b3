package manager

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/channel"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/metrics"
	"github.com/umts-sim/umts-sim/sim/packet"
	"github.com/umts-sim/umts-sim/sim/phy"
	"github.com/umts-sim/umts-sim/sim/rrc"
)

// listeners routes flow lifecycle events to whoever opened the flow.
type listeners map[sim.FlowID]FlowListener

func (ls listeners) ready(info rrc.FlowInfo) {
	if l, ok := ls[info.Flow]; ok {
		l.FlowReady(info)
	}
}

func (ls listeners) closed(info rrc.FlowInfo, reason string) {
	if l, ok := ls[info.Flow]; ok {
		delete(ls, info.Flow)
		l.FlowClosed(info, reason)
	}
}

// service is a broadcast or multicast offering and its subscribers.
type service struct {
	name    string
	flow    sim.FlowID
	app     rrc.AppClass
	members []sim.NodeID
}

// Station is the base-station manager.
type Station struct {
	id        sim.NodeID
	cfg       Config
	sched     engine.Scheduler
	reg       *Registry
	phy       *phy.NodeB
	rrc       *rrc.NodeB
	radius    float64
	frequency float64
	metrics   *metrics.Collector
	sink      Sink

	terminals map[sim.NodeID]*Terminal
	order     []sim.NodeID
	services  map[string]*service
	names     []string
	listeners listeners
	ticker    *engine.Ticker
}

// NewStation creates the manager of a base station, binds it above the
// station's resource controller and registers it.
func NewStation(id sim.NodeID, cfg Config, s engine.Scheduler, reg *Registry, p *phy.NodeB, r *rrc.NodeB, radius, frequency float64, m *metrics.Collector) *Station {
	if err := cfg.Validate(); err != nil {
		panic("manager.NewStation: " + err.Error())
	}
	if s == nil || reg == nil || p == nil || r == nil {
		panic("manager.NewStation: collaborators must not be nil")
	}
	st := &Station{
		id:        id,
		cfg:       cfg,
		sched:     s,
		reg:       reg,
		phy:       p,
		rrc:       r,
		radius:    radius,
		frequency: frequency,
		metrics:   m,
		terminals: make(map[sim.NodeID]*Terminal),
		services:  make(map[string]*service),
		listeners: make(listeners),
	}
	r.Bind(st)
	if !reg.Add(st) {
		panic(fmt.Sprintf("manager.NewStation: station %d registered twice", id))
	}
	return st
}

// ID returns the station's node id.
func (b *Station) ID() sim.NodeID { return b.id }

// Radius returns the coverage radius in meters.
func (b *Station) Radius() float64 { return b.radius }

// RRC returns the station's resource controller.
func (b *Station) RRC() *rrc.NodeB { return b.rrc }

// SetSink directs delivered uplink data to sink.
func (b *Station) SetSink(s Sink) { b.sink = s }

// Start begins external interference sampling.
func (b *Station) Start() {
	if b.ticker.Running() {
		return
	}
	b.ticker = engine.Every(b.sched, b.cfg.InterferencePeriod, b.cfg.InterferencePeriod, b.sampleInterference)
}

// Stop halts sampling.
func (b *Station) Stop() { b.ticker.Stop() }

// Terminals lists attached terminals in attach order.
func (b *Station) Terminals() []sim.NodeID { return slices.Clone(b.order) }

// Attached reports whether ue is attached.
func (b *Station) Attached(ue sim.NodeID) bool {
	_, ok := b.terminals[ue]
	return ok
}

// Attach connects a terminal to this station: it joins the common channel and
// gets physical and resource-control registry entries. Returns false if it
// was already attached.
func (b *Station) Attach(t *Terminal) bool {
	if b.Attached(t.id) {
		return false
	}
	t.phy.Attach(b.phy.Channel())
	b.phy.Register(t.id)
	b.rrc.AddTerminal(t.id)
	b.terminals[t.id] = t
	b.order = append(b.order, t.id)
	logrus.Infof("[tick %07d] station %d: terminal %d attached", b.sched.Now().Micros(), b.id, t.id)
	return true
}

// Detach releases everything held for ue and returns the number of flows
// released. Repeated calls return zero.
func (b *Station) Detach(ue sim.NodeID) int {
	if !b.Attached(ue) {
		return 0
	}
	delete(b.terminals, ue)
	if i := slices.Index(b.order, ue); i >= 0 {
		b.order = slices.Delete(b.order, i, i+1)
	}
	for _, name := range b.names {
		b.Unsubscribe(name, ue)
	}
	n := b.rrc.TerminalLost(ue)
	b.phy.Deregister(ue)
	logrus.Infof("[tick %07d] station %d: terminal %d detached, %d flows released", b.sched.Now().Micros(), b.id, ue, n)
	return n
}

// OpenFlow starts a downlink flow to ue; l follows its lifecycle.
func (b *Station) OpenFlow(ue sim.NodeID, app rrc.AppClass, rate float64, l FlowListener) (sim.FlowID, error) {
	if !b.Attached(ue) {
		return 0, fmt.Errorf("%w: terminal %d at station %d", rrc.ErrNotAttached, ue, b.id)
	}
	id, err := b.rrc.OpenFlow(ue, app, rate)
	if err != nil {
		return 0, err
	}
	b.follow(id, l)
	return id, nil
}

// follow registers l for a flow that may already be ready.
func (b *Station) follow(id sim.FlowID, l FlowListener) {
	if l == nil {
		return
	}
	b.listeners[id] = l
	if info, ok := b.rrc.Flow(id); ok && info.State.Ready() {
		l.FlowReady(info)
	}
}

// OpenService starts a named broadcast or multicast service.
func (b *Station) OpenService(name string, app rrc.AppClass, rate float64, l FlowListener) (sim.FlowID, error) {
	if _, ok := b.services[name]; ok {
		return 0, fmt.Errorf("manager: service %q already open at station %d", name, b.id)
	}
	id, err := b.rrc.OpenGroup(app, rate, nil)
	if err != nil {
		return 0, err
	}
	b.services[name] = &service{name: name, flow: id, app: app}
	b.names = append(b.names, name)
	b.follow(id, l)
	return id, nil
}

// Subscribe adds an attached terminal to a service.
func (b *Station) Subscribe(name string, ue sim.NodeID) bool {
	svc, ok := b.services[name]
	if !ok || !b.Attached(ue) || slices.Contains(svc.members, ue) {
		return false
	}
	svc.members = append(svc.members, ue)
	b.rrc.SetMembers(svc.flow, svc.members)
	return true
}

// Unsubscribe removes a terminal from a service.
func (b *Station) Unsubscribe(name string, ue sim.NodeID) bool {
	svc, ok := b.services[name]
	if !ok {
		return false
	}
	i := slices.Index(svc.members, ue)
	if i < 0 {
		return false
	}
	svc.members = slices.Delete(svc.members, i, i+1)
	b.rrc.SetMembers(svc.flow, svc.members)
	return true
}

// Subscribers lists a service's members.
func (b *Station) Subscribers(name string) []sim.NodeID {
	if svc, ok := b.services[name]; ok {
		return slices.Clone(svc.members)
	}
	return nil
}

// Send queues data on a downlink or group flow.
func (b *Station) Send(flow sim.FlowID, sdu []byte) bool {
	return b.rrc.Send(flow, sdu)
}

// CloseFlow ends a flow.
func (b *Station) CloseFlow(flow sim.FlowID) bool {
	return b.rrc.CloseFlow(flow)
}

// Deliver implements rrc.Upper.
func (b *Station) Deliver(flow sim.FlowID, peer sim.NodeID, sdu []byte, c packet.Common) {
	if b.sink != nil {
		b.sink.Delivered(b.id, peer, flow, len(sdu), b.sched.Now()-c.Created)
	}
}

// FlowReady implements rrc.Upper.
func (b *Station) FlowReady(info rrc.FlowInfo) { b.listeners.ready(info) }

// FlowClosed implements rrc.Upper.
func (b *Station) FlowClosed(info rrc.FlowInfo, reason string) {
	for name, svc := range b.services {
		if svc.flow == info.Flow {
			delete(b.services, name)
			b.names = slices.DeleteFunc(b.names, func(n string) bool { return n == name })
		}
	}
	b.listeners.closed(info, reason)
}

// sampleInterference feeds the power received from terminals of peer cells
// into the station's physical layer.
func (b *Station) sampleInterference(now sim.Time) {
	loss := b.phy.Channel().Loss()
	for _, pid := range b.reg.Peers(b.id) {
		peer, ok := b.reg.Station(pid)
		if !ok {
			continue
		}
		for _, ue := range peer.order {
			t := peer.terminals[ue]
			if !t.phy.Transmitting() {
				continue
			}
			dbm := channel.ReceivedPower(loss, now, t.phy, b.phy, t.phy.TransmitPower())
			b.phy.RecordInterference(sim.DBmToMilliwatt(dbm))
		}
	}
}
