package rlc

import (
	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/packet"
)

const amMod = amSNMask + 1

type txPDU struct {
	sn        uint16
	data      []byte
	firstFrag uint8
	lastFrag  uint8
	last      bool
	created   sim.Time
	retx      int
}

type rxPDU struct {
	hdr     AMHeader
	data    []byte
	created sim.Time
}

// amEntity is one acknowledged-mode flow endpoint. It transmits and receives.
type amEntity struct {
	l    *Layer
	spec FlowSpec

	// transmit side: SNs in [base, txNext) are outstanding, [txNext, next) unsent
	base, txNext, next uint16
	buf                map[uint16]*txPDU
	timer              *engine.Timer
	lastAck            uint16
	resetting          bool // reset sent, peer has not acknowledged the new base

	// receive side
	rxNext  uint16
	rxBuf   map[uint16]*rxPDU
	nacked  map[uint16]bool // gap starts already reported
	partial []byte
	inSDU   bool
	created sim.Time

	stats EntityStats
}

func newAMEntity(l *Layer, spec FlowSpec) *amEntity {
	return &amEntity{
		l:      l,
		spec:   spec,
		buf:    make(map[uint16]*txPDU),
		timer:  engine.NewTimer(l.sched),
		rxBuf:  make(map[uint16]*rxPDU),
		nacked: make(map[uint16]bool),
	}
}

func (e *amEntity) flowSpec() *FlowSpec { return &e.spec }

func (e *amEntity) snapshot() EntityStats {
	s := e.stats
	s.Outstanding = seqDiff(e.base, e.next, amMod)
	return s
}

// canAccept admits a new SDU only when every earlier fragment has been sent
// and the window has room.
func (e *amEntity) canAccept() bool {
	return e.txNext == e.next && seqDiff(e.base, e.next, amMod) < e.l.cfg.Window
}

func (e *amEntity) submit(sdu []byte, created sim.Time) bool {
	frags := fragment(sdu, e.l.cfg.FragmentSize)
	if len(frags) > e.l.cfg.MaxFragments {
		return false
	}
	first := e.next
	last := seqAdd(first, len(frags)-1, amMod)
	for i, f := range frags {
		sn := seqAdd(first, i, amMod)
		e.buf[sn] = &txPDU{
			sn:        sn,
			data:      f,
			firstFrag: uint8(first),
			lastFrag:  uint8(last),
			last:      i == len(frags)-1,
			created:   created,
		}
	}
	e.next = seqAdd(last, 1, amMod)
	e.stats.SDUsSent++
	return true
}

// transmit sends every unsent PDU inside the window, polling on the last one.
func (e *amEntity) transmit(now sim.Time) {
	if e.resetting {
		return
	}
	var burst []*txPDU
	for e.txNext != e.next && seqInWindow(e.txNext, e.base, e.l.cfg.Window, amMod) {
		burst = append(burst, e.buf[e.txNext])
		e.txNext = seqAdd(e.txNext, 1, amMod)
	}
	for i, pdu := range burst {
		e.sendPDU(pdu, i == len(burst)-1, false)
		e.stats.PDUsSent++
		e.l.metrics.IncPDU(e.spec.Mode.String())
	}
	if len(burst) > 0 && !e.timer.Armed() {
		e.timer.Reset(e.l.cfg.RetxTimeout, e.onTimeout)
	}
}

func (e *amEntity) sendPDU(pdu *txPDU, poll, reseg bool) {
	h := AMHeader{
		Resegmented: reseg,
		Poll:        poll,
		Last:        pdu.last,
		SN:          pdu.sn,
		Length:      uint8(len(pdu.data)),
		LastFrag:    pdu.lastFrag,
		FirstFrag:   pdu.firstFrag,
	}
	hdr, err := h.Encode()
	if err != nil {
		logrus.Errorf("rlc %d: %s: %v", e.l.id, Key{e.spec.Flow, e.spec.Peer}, err)
		return
	}
	p := e.l.newPDU(&e.spec, packet.MsgData, pdu.data, pdu.created)
	p.Prepend(hdr[:])
	e.l.lower.Send(p)
}

// onTimeout retransmits everything outstanding. A PDU exceeding the
// retransmission budget resets the entity.
func (e *amEntity) onTimeout(now sim.Time) {
	var out []*txPDU
	for sn := e.base; sn != e.txNext; sn = seqAdd(sn, 1, amMod) {
		out = append(out, e.buf[sn])
	}
	if len(out) == 0 {
		return
	}
	logrus.Debugf("[tick %07d] rlc %d: %s retransmission timeout, %d outstanding", now.Micros(), e.l.id, Key{e.spec.Flow, e.spec.Peer}, len(out))
	e.retransmit(now, out)
	if e.base != e.txNext {
		e.timer.Reset(e.l.cfg.RetxTimeout, e.onTimeout)
	}
}

func (e *amEntity) retransmit(now sim.Time, pdus []*txPDU) {
	for _, pdu := range pdus {
		pdu.retx++
		if pdu.retx > e.l.cfg.MaxRetx {
			e.reset(now)
			return
		}
	}
	for i, pdu := range pdus {
		e.sendPDU(pdu, i == len(pdus)-1, true)
		e.stats.Retransmissions++
		e.l.metrics.IncRetransmit()
	}
}

// reset abandons all buffered data and tells the peer where numbering resumes.
func (e *amEntity) reset(now sim.Time) {
	logrus.Warnf("[tick %07d] rlc %d: %s reset after %d retransmissions", now.Micros(), e.l.id, Key{e.spec.Flow, e.spec.Peer}, e.l.cfg.MaxRetx)
	e.timer.Stop()
	e.buf = make(map[uint16]*txPDU)
	e.base, e.txNext = e.next, e.next
	e.lastAck = e.next
	e.stats.Resets++
	e.resetting = true
	e.sendReset(now)
}

// sendReset announces the new base and repeats until the peer acknowledges it.
func (e *amEntity) sendReset(now sim.Time) {
	e.sendStatus(StatusHeader{Type: StatusReset, Ack: e.base & ackMask, Ext: uint8(e.base >> 10)})
	e.timer.Reset(e.l.cfg.RetxTimeout, e.sendReset)
}

func (e *amEntity) sendStatus(h StatusHeader) {
	hdr, err := h.Encode()
	if err != nil {
		logrus.Errorf("rlc %d: %s: %v", e.l.id, Key{e.spec.Flow, e.spec.Peer}, err)
		return
	}
	p := e.l.newPDU(&e.spec, packet.MsgAck, hdr[:], e.l.sched.Now())
	p.Ctrl.Common.Kind = packet.KindAck
	e.l.lower.Send(p)
	e.stats.StatusSent++
}

// onStatus prunes the window on an advancing ACK and retransmits the run a
// selective ACK names.
func (e *amEntity) onStatus(now sim.Time, h StatusHeader) {
	if h.Type == StatusReset {
		e.rxNext = uint16(h.Ext)<<10 | h.Ack
		e.rxBuf = make(map[uint16]*rxPDU)
		e.nacked = make(map[uint16]bool)
		e.inSDU, e.partial = false, nil
		e.sendAck()
		return
	}
	if e.resetting {
		// acks for the abandoned window are stale
		if h.Ack != e.base&ackMask {
			return
		}
		e.resetting = false
		e.timer.Stop()
		e.lastAck = e.base
		e.transmit(now)
		return
	}
	d := int((h.Ack - e.base) & ackMask)
	if d > seqDiff(e.base, e.txNext, amMod) {
		return
	}
	ack := seqAdd(e.base, d, amMod)
	if d > 0 {
		for sn := e.base; sn != ack; sn = seqAdd(sn, 1, amMod) {
			delete(e.buf, sn)
		}
		e.base = ack
		if e.base == e.txNext {
			e.timer.Stop()
		} else {
			e.timer.Reset(e.l.cfg.RetxTimeout, e.onTimeout)
		}
	} else if ack == e.lastAck {
		e.stats.DuplicateAcks++
	}
	e.lastAck = ack

	if h.Type == StatusSelective && h.Nack > 0 {
		var run []*txPDU
		for i := 0; i < int(h.Nack); i++ {
			sn := seqAdd(ack, i, amMod)
			if !seqInWindow(sn, e.base, seqDiff(e.base, e.txNext, amMod), amMod) {
				break
			}
			run = append(run, e.buf[sn])
		}
		if len(run) > 0 {
			e.retransmit(now, run)
		}
	}
	e.transmit(now)
}

// onData buffers a data PDU, plays out everything now in sequence, and reports
// status: once per new gap, on poll, and when a gap closes.
func (e *amEntity) onData(now sim.Time, h AMHeader, data []byte, created sim.Time) {
	d := seqDiff(e.rxNext, h.SN, amMod)
	if d >= amMod/2 || e.rxBuf[h.SN] != nil {
		// already played out or already buffered
		if h.Poll {
			e.sendAck()
		}
		return
	}
	if d >= e.l.cfg.Window {
		return
	}
	gapBefore := len(e.rxBuf) > 0
	e.rxBuf[h.SN] = &rxPDU{hdr: h, data: data, created: created}
	for {
		pdu, ok := e.rxBuf[e.rxNext]
		if !ok {
			break
		}
		delete(e.rxBuf, e.rxNext)
		e.rxNext = seqAdd(e.rxNext, 1, amMod)
		e.playOut(now, pdu)
	}

	if len(e.rxBuf) > 0 {
		if !e.nacked[e.rxNext] {
			e.nacked[e.rxNext] = true
			e.sendSelective()
		}
		return
	}
	if len(e.nacked) > 0 {
		e.nacked = make(map[uint16]bool)
	}
	if h.Poll || gapBefore {
		e.sendAck()
	}
}

func (e *amEntity) sendAck() {
	e.sendStatus(StatusHeader{Type: StatusAck, Ack: e.rxNext & ackMask})
}

func (e *amEntity) sendSelective() {
	lo, hi := amMod, -1
	for sn := range e.rxBuf {
		d := seqDiff(e.rxNext, sn, amMod)
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	nack := lo
	if nack > 255 {
		nack = 255
	}
	e.sendStatus(StatusHeader{
		Type:      StatusSelective,
		Ack:       e.rxNext & ackMask,
		Nack:      uint8(nack),
		FirstFrag: uint8(seqAdd(e.rxNext, lo, amMod)),
		LastFrag:  uint8(seqAdd(e.rxNext, hi, amMod)),
	})
}

func (e *amEntity) playOut(now sim.Time, pdu *rxPDU) {
	isFirst := uint8(pdu.hdr.SN) == pdu.hdr.FirstFrag
	if isFirst {
		if e.inSDU {
			e.discard()
		}
		e.inSDU = true
		e.partial = e.partial[:0]
		e.created = pdu.created
	}
	if !e.inSDU {
		return
	}
	e.partial = append(e.partial, pdu.data...)
	if pdu.hdr.Last {
		sdu := append([]byte(nil), e.partial...)
		e.inSDU = false
		e.partial = e.partial[:0]
		e.stats.SDUsDelivered++
		e.l.deliverSDU(&e.spec, sdu, e.created)
	}
}

func (e *amEntity) discard() {
	e.stats.Discards++
	e.l.metrics.IncDiscard(e.spec.Mode.String())
}

func (e *amEntity) receive(now sim.Time, p *packet.Packet) {
	if IsControl(p.Payload) {
		h, err := DecodeStatusHeader(p.Payload)
		if err != nil {
			logrus.Debugf("rlc %d: %v", e.l.id, err)
			return
		}
		e.onStatus(now, h)
		return
	}
	raw, err := p.Strip(HeaderSize)
	if err != nil {
		return
	}
	h, err := DecodeAMHeader(raw)
	if err != nil {
		logrus.Debugf("rlc %d: %v", e.l.id, err)
		return
	}
	e.onData(now, h, p.Payload, p.Ctrl.Common.Created)
}

func (e *amEntity) close() {
	e.timer.Stop()
}
