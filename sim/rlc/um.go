package rlc

import (
	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/packet"
)

const umMod = umSNMask + 1

// umEntity is an unacknowledged-mode endpoint: fragmenting, non-fragmenting,
// broadcast or multicast. Reassembly succeeds only for a contiguous run from a
// first fragment to a last fragment; anything else drops the partial SDU.
type umEntity struct {
	l    *Layer
	spec FlowSpec

	next     uint16
	sduCount uint8
	pending  []*packet.Packet

	inSDU   bool
	expect  uint16
	ln      uint8
	partial []byte
	created sim.Time

	stats EntityStats
}

func newUMEntity(l *Layer, spec FlowSpec) *umEntity {
	return &umEntity{l: l, spec: spec}
}

func (e *umEntity) flowSpec() *FlowSpec { return &e.spec }

func (e *umEntity) snapshot() EntityStats {
	s := e.stats
	s.Outstanding = len(e.pending)
	return s
}

func (e *umEntity) canAccept() bool { return true }

func (e *umEntity) submit(sdu []byte, created sim.Time) bool {
	frags := [][]byte{sdu}
	if e.spec.Mode.Fragmenting() {
		frags = fragment(sdu, e.l.cfg.FragmentSize)
		if len(frags) > e.l.cfg.MaxFragments {
			return false
		}
	}
	first := e.next
	last := seqAdd(first, len(frags)-1, umMod)
	for i, f := range frags {
		length := len(f)
		if length > maxLI {
			length = maxLI
		}
		h := UMHeader{
			SN:         seqAdd(first, i, umMod),
			LastNumber: e.sduCount,
			Length:     uint8(length),
			Extension:  !e.spec.Mode.Fragmenting(),
			LastFrag:   uint8(last),
			FirstFrag:  uint8(first),
		}
		hdr, err := h.Encode()
		if err != nil {
			logrus.Errorf("rlc %d: %s: %v", e.l.id, Key{e.spec.Flow, e.spec.Peer}, err)
			return false
		}
		p := e.l.newPDU(&e.spec, packet.MsgData, f, created)
		p.Prepend(hdr[:])
		e.pending = append(e.pending, p)
	}
	e.next = seqAdd(last, 1, umMod)
	e.sduCount = (e.sduCount + 1) & 0x3
	e.stats.SDUsSent++
	return true
}

func (e *umEntity) transmit(now sim.Time) {
	for _, p := range e.pending {
		e.l.lower.Send(p)
		e.stats.PDUsSent++
		e.l.metrics.IncPDU(e.spec.Mode.String())
	}
	e.pending = e.pending[:0]
}

func (e *umEntity) receive(now sim.Time, p *packet.Packet) {
	raw, err := p.Strip(HeaderSize)
	if err != nil {
		return
	}
	h, err := DecodeUMHeader(raw)
	if err != nil {
		logrus.Debugf("rlc %d: %v", e.l.id, err)
		return
	}
	isFirst := uint8(h.SN) == h.FirstFrag
	isLast := uint8(h.SN) == h.LastFrag

	switch {
	case isFirst:
		if e.inSDU {
			e.discard(now, "new first fragment")
		}
		e.inSDU = true
		e.partial = append(e.partial[:0], p.Payload...)
		e.ln = h.LastNumber
		e.created = p.Ctrl.Common.Created
	case e.inSDU && h.SN == e.expect && h.LastNumber == e.ln:
		e.partial = append(e.partial, p.Payload...)
	default:
		if e.inSDU {
			e.discard(now, "sequence gap")
		}
		return
	}
	e.expect = seqAdd(h.SN, 1, umMod)
	if isLast {
		sdu := append([]byte(nil), e.partial...)
		e.inSDU = false
		e.stats.SDUsDelivered++
		e.l.deliverSDU(&e.spec, sdu, e.created)
	}
}

func (e *umEntity) discard(now sim.Time, why string) {
	logrus.Debugf("[tick %07d] rlc %d: %s partial SDU dropped: %s", now.Micros(), e.l.id, Key{e.spec.Flow, e.spec.Peer}, why)
	e.inSDU = false
	e.partial = e.partial[:0]
	e.stats.Discards++
	e.l.metrics.IncDiscard(e.spec.Mode.String())
}

func (e *umEntity) close() {
	e.pending = nil
}
