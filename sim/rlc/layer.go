package rlc

import (
	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/mac"
	"github.com/umts-sim/umts-sim/sim/metrics"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// Lower is the link layer seen from the ARQ layer.
type Lower interface {
	Send(p *packet.Packet) bool
}

// Upper is the control layer above the ARQ layer.
type Upper interface {
	// ReceiveFromRlc delivers one reassembled SDU of flow spec.
	ReceiveFromRlc(spec FlowSpec, sdu []byte, c packet.Common)
	// ReceiveControl delivers a transparent-mode signalling message from peer.
	ReceiveControl(peer sim.NodeID, msg []byte, c packet.Common)
	// ResolveFlow supplies the receive entity for data arriving on an unknown
	// flow. Returning false drops the PDU.
	ResolveFlow(c packet.Common, peer sim.NodeID) (FlowSpec, bool)
	// AccessFailed hands back PDUs whose random access was abandoned.
	AccessFailed(pkts []*packet.Packet)
}

// EntityStats counts one entity's activity.
type EntityStats struct {
	SDUsSent        int
	SDUsDelivered   int
	PDUsSent        int
	Retransmissions int
	StatusSent      int
	DuplicateAcks   int
	Discards        int
	Resets          int
	Outstanding     int // AM: assigned and unacknowledged PDUs; UM: PDUs awaiting the TTI
}

type entity interface {
	flowSpec() *FlowSpec
	canAccept() bool
	submit(sdu []byte, created sim.Time) bool
	transmit(now sim.Time)
	receive(now sim.Time, p *packet.Packet)
	snapshot() EntityStats
	close()
}

// Layer is one node's ARQ layer.
type Layer struct {
	id      sim.NodeID
	kind    sim.NodeKind
	cfg     Config
	sched   engine.Scheduler
	lower   Lower
	upper   Upper
	metrics *metrics.Collector

	entities  map[Key]entity
	order     []Key
	admission *packet.Queue
	ticker    *engine.Ticker
}

// New creates the ARQ layer of node id. It panics on an invalid configuration.
func New(id sim.NodeID, kind sim.NodeKind, cfg Config, sched engine.Scheduler, lower Lower, m *metrics.Collector) *Layer {
	if err := cfg.Validate(); err != nil {
		panic("rlc.New: " + err.Error())
	}
	if sched == nil || lower == nil {
		panic("rlc.New: scheduler and lower layer must not be nil")
	}
	return &Layer{
		id:        id,
		kind:      kind,
		cfg:       cfg,
		sched:     sched,
		lower:     lower,
		metrics:   m,
		entities:  make(map[Key]entity),
		admission: packet.NewQueue(cfg.AdmissionLimit),
	}
}

// Bind sets the upper layer. It may be called once.
func (l *Layer) Bind(u Upper) {
	if l.upper != nil {
		panic("Layer.Bind: upper layer already bound")
	}
	l.upper = u
}

// Config returns the layer's constants.
func (l *Layer) Config() Config { return l.cfg }

// Start begins the TTI that drains the admission queue.
func (l *Layer) Start() {
	if l.ticker.Running() {
		return
	}
	l.ticker = engine.Every(l.sched, l.cfg.TTI, l.cfg.TTI, l.onTTI)
}

// Stop halts the TTI.
func (l *Layer) Stop() {
	l.ticker.Stop()
}

// AddFlow creates the entity for spec. Returns false if the key exists or the
// mode carries no entity.
func (l *Layer) AddFlow(spec FlowSpec) bool {
	key := Key{spec.Flow, spec.Peer}
	if _, ok := l.entities[key]; ok || spec.Mode == ModeTransparent {
		return false
	}
	if l.kind == sim.NodeUE && (spec.Mode == ModeBroadcast || spec.Mode == ModeMulticast) && spec.Peer == 0 {
		// terminals only receive point-to-multipoint traffic
		return false
	}
	var e entity
	if spec.Mode == ModeAM {
		e = newAMEntity(l, spec)
	} else {
		e = newUMEntity(l, spec)
	}
	l.entities[key] = e
	l.order = append(l.order, key)
	logrus.Debugf("[tick %07d] rlc %d: %s mode %s created", l.sched.Now().Micros(), l.id, key, spec.Mode)
	return true
}

// HasFlow reports whether an entity exists for key.
func (l *Layer) HasFlow(key Key) bool {
	_, ok := l.entities[key]
	return ok
}

// Flows lists the entity keys in creation order.
func (l *Layer) Flows() []Key {
	return append([]Key(nil), l.order...)
}

// Stats returns the counters of one entity.
func (l *Layer) Stats(key Key) (EntityStats, bool) {
	e, ok := l.entities[key]
	if !ok {
		return EntityStats{}, false
	}
	return e.snapshot(), true
}

// SetDestinations replaces the receiver set of a multicast entity.
func (l *Layer) SetDestinations(key Key, dsts []sim.NodeID) bool {
	e, ok := l.entities[key]
	if !ok || e.flowSpec().Mode != ModeMulticast {
		return false
	}
	e.flowSpec().Dsts = append([]sim.NodeID(nil), dsts...)
	return true
}

// RemoveFlow destroys an entity and drops its queued SDUs.
func (l *Layer) RemoveFlow(key Key) bool {
	e, ok := l.entities[key]
	if !ok {
		return false
	}
	e.close()
	delete(l.entities, key)
	for i, k := range l.order {
		if k == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.admission.RemoveIf(func(p *packet.Packet) bool {
		return p.Ctrl.Common.Flow == key.Flow && p.Ctrl.Phy.Dst == key.Peer
	})
	return true
}

// RemovePeer destroys every entity toward peer and returns how many there were.
func (l *Layer) RemovePeer(peer sim.NodeID) int {
	var gone []Key
	for _, k := range l.order {
		if k.Peer == peer {
			gone = append(gone, k)
		}
	}
	for _, k := range gone {
		l.RemoveFlow(k)
	}
	return len(gone)
}

// Send queues sdu for the entity (flow, peer). It returns false if the entity
// is unknown, the SDU is too large, or the admission queue is full.
func (l *Layer) Send(flow sim.FlowID, peer sim.NodeID, sdu []byte, created sim.Time) bool {
	key := Key{flow, peer}
	e, ok := l.entities[key]
	if !ok {
		logrus.Debugf("[tick %07d] rlc %d: send on unknown %s", l.sched.Now().Micros(), l.id, key)
		return false
	}
	if e.flowSpec().Mode.Fragmenting() && len(sdu) > l.cfg.MaxSDU() {
		logrus.Warnf("[tick %07d] rlc %d: %s SDU of %d bytes exceeds %d", l.sched.Now().Micros(), l.id, key, len(sdu), l.cfg.MaxSDU())
		return false
	}
	p := l.newPDU(e.flowSpec(), packet.MsgData, sdu, created)
	if !l.admission.Enqueue(p) {
		logrus.Debugf("[tick %07d] rlc %d: admission queue full, %s SDU dropped", l.sched.Now().Micros(), l.id, key)
		return false
	}
	return true
}

// SendControl transmits a signalling message to peer in transparent mode,
// bypassing the admission queue.
func (l *Layer) SendControl(peer sim.NodeID, dst sim.Addr, msg []byte) bool {
	p := packet.New(msg, packet.Common{
		Src:     sim.AddrOf(l.id),
		Dst:     dst,
		MsgType: packet.MsgControl,
		Kind:    packet.KindCommon,
		Class:   packet.Interactive,
		Created: l.sched.Now(),
	})
	p.Ctrl.Phy.Dst = peer
	return l.lower.Send(p)
}

// Queued returns the number of SDUs waiting for admission.
func (l *Layer) Queued() int {
	return l.admission.Len()
}

func (l *Layer) newPDU(spec *FlowSpec, t packet.MsgType, payload []byte, created sim.Time) *packet.Packet {
	p := packet.New(payload, packet.Common{
		Src:     spec.Src,
		Dst:     spec.Dst,
		MsgType: t,
		Kind:    spec.Mode.Kind(),
		Class:   spec.Class,
		Flow:    spec.Flow,
		Created: created,
	})
	p.Ctrl.Phy.Dst = spec.Peer
	if spec.Mode == ModeMulticast {
		p.Ctrl.Phy.Dsts = append([]sim.NodeID(nil), spec.Dsts...)
	}
	return p
}

// onTTI hands queued SDUs to entities that can take them, keeping each
// flow's order, then lets every entity transmit.
func (l *Layer) onTTI(now sim.Time) {
	blocked := make(map[Key]bool)
	var admitted []*packet.Packet
	for _, p := range l.admission.Items() {
		key := Key{p.Ctrl.Common.Flow, p.Ctrl.Phy.Dst}
		e, ok := l.entities[key]
		if !ok || blocked[key] || !e.canAccept() {
			blocked[key] = true
			continue
		}
		admitted = append(admitted, p)
		if !e.submit(p.Payload, p.Ctrl.Common.Created) {
			logrus.Warnf("[tick %07d] rlc %d: %s SDU rejected by entity", now.Micros(), l.id, key)
		}
	}
	if len(admitted) > 0 {
		taken := make(map[*packet.Packet]bool, len(admitted))
		for _, p := range admitted {
			taken[p] = true
		}
		l.admission.RemoveIf(func(p *packet.Packet) bool { return taken[p] })
	}
	for _, k := range l.order {
		l.entities[k].transmit(now)
	}
}

// ReceiveFromMac dispatches a PDU to its entity, creating a receive entity on
// first contact when the upper layer recognises the flow.
func (l *Layer) ReceiveFromMac(p *packet.Packet, _ mac.Header) {
	c := p.Ctrl.Common
	peer := p.Ctrl.Phy.Src
	if c.MsgType == packet.MsgControl {
		l.upper.ReceiveControl(peer, p.Payload, c)
		return
	}
	key := Key{c.Flow, peer}
	e, ok := l.entities[key]
	if !ok {
		spec, known := l.upper.ResolveFlow(c, peer)
		if !known || (Key{spec.Flow, spec.Peer}) != key || !l.AddFlow(spec) {
			logrus.Debugf("[tick %07d] rlc %d: PDU for unknown %s dropped", l.sched.Now().Micros(), l.id, key)
			return
		}
		e = l.entities[key]
	}
	e.receive(l.sched.Now(), p)
}

// AccessFailed passes abandoned PDUs to the upper layer untouched.
func (l *Layer) AccessFailed(pkts []*packet.Packet) {
	if l.upper != nil {
		l.upper.AccessFailed(pkts)
	}
}

func (l *Layer) deliverSDU(spec *FlowSpec, sdu []byte, created sim.Time) {
	now := l.sched.Now()
	l.metrics.ObserveDelivery(spec.Mode.String(), len(sdu), (now - created).Seconds())
	c := packet.Common{
		Src:     spec.Dst,
		Dst:     spec.Src,
		MsgType: packet.MsgData,
		Kind:    spec.Mode.Kind(),
		Class:   spec.Class,
		Flow:    spec.Flow,
		Size:    len(sdu),
		Created: created,
	}
	l.upper.ReceiveFromRlc(*spec, sdu, c)
}
