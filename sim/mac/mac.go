// Package mac implements the link multiplexing layer: a two-byte framing
// header that routes traffic by kind and class between the ARQ layer and the
// physical layer. It never retransmits or reorders.
package mac

import (
	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// Phy is the physical layer seen from the MAC.
type Phy interface {
	Send(p *packet.Packet) bool
	// Dedicated reports whether a dedicated channel to peer is up.
	Dedicated(peer sim.NodeID) bool
}

// Upper is the layer above the MAC.
type Upper interface {
	ReceiveFromMac(p *packet.Packet, h Header)
}

// TerminalUpper additionally hears about abandoned random-access procedures.
type TerminalUpper interface {
	Upper
	AccessFailed(pkts []*packet.Packet)
}

// MAC is one node's link multiplexing layer.
type MAC struct {
	id    sim.NodeID
	kind  sim.NodeKind
	phy   Phy
	upper Upper
	now   func() sim.Time
}

// New creates the MAC of node id on top of phy.
func New(id sim.NodeID, kind sim.NodeKind, phy Phy, now func() sim.Time) *MAC {
	if phy == nil || now == nil {
		panic("mac.New: phy and clock must not be nil")
	}
	return &MAC{id: id, kind: kind, phy: phy, now: now}
}

// Bind sets the upper layer. It may be called once.
func (m *MAC) Bind(u Upper) {
	if m.upper != nil {
		panic("MAC.Bind: upper layer already bound")
	}
	m.upper = u
}

// Send frames p and hands it to the physical layer. Dedicated and ack traffic
// rides the DCH when one is up; everything else uses the common channels.
// Returns false when the header cannot be built or the physical queue is full.
func (m *MAC) Send(p *packet.Packet) bool {
	c := &p.Ctrl
	peer := c.Phy.Dst
	slot := TerminalSlot(peer)
	if m.kind == sim.NodeUE {
		slot = TerminalSlot(m.id)
	}
	h := Header{Kind: c.Common.Kind, Uplink: m.kind == sim.NodeUE, Class: c.Common.Class, Slot: slot}
	hdr, err := h.Encode()
	if err != nil {
		logrus.Warnf("[tick %07d] %s %d: dropping %v: %v", m.now().Micros(), m.kind, m.id, p, err)
		return false
	}
	p.Prepend(hdr[:])
	c.Phy.Src = m.id

	switch c.Common.Kind {
	case packet.KindDedicated, packet.KindAck:
		if m.phy.Dedicated(peer) {
			c.Common.Channel = packet.DCH
		} else {
			c.Common.Channel = m.commonChannel()
		}
	case packet.KindCommon:
		c.Common.Channel = m.commonChannel()
	default:
		c.Common.Channel = packet.FACH
	}
	return m.phy.Send(p)
}

func (m *MAC) commonChannel() packet.LogicalChannel {
	if m.kind == sim.NodeUE {
		return packet.RACH
	}
	return packet.FACH
}

// ReceiveFromPhy strips the header and forwards the PDU with its class.
func (m *MAC) ReceiveFromPhy(p *packet.Packet) {
	raw, err := p.Strip(HeaderSize)
	if err != nil {
		logrus.Debugf("[tick %07d] %s %d: short frame: %v", m.now().Micros(), m.kind, m.id, err)
		return
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		logrus.Debugf("[tick %07d] %s %d: %v", m.now().Micros(), m.kind, m.id, err)
		return
	}
	p.Ctrl.Common.Kind = h.Kind
	p.Ctrl.Common.Class = h.Class
	m.upper.ReceiveFromMac(p, h)
}

// AccessFailed strips the link header from the abandoned PDUs and passes them up.
func (m *MAC) AccessFailed(pkts []*packet.Packet) {
	for _, p := range pkts {
		if _, err := p.Strip(HeaderSize); err != nil {
			logrus.Debugf("[tick %07d] %s %d: %v", m.now().Micros(), m.kind, m.id, err)
		}
	}
	if tu, ok := m.upper.(TerminalUpper); ok {
		tu.AccessFailed(pkts)
	}
}
