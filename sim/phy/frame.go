package phy

import (
	"math"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/codetree"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// allocation is a dedicated code set and the capacity banked against it.
type allocation struct {
	codes  []codetree.Code
	credit float64
	rate   float64 // bit/s of the last frame built
}

func (a *allocation) set(codes []codetree.Code) {
	a.codes = append([]codetree.Code(nil), codes...)
	if len(codes) == 0 {
		a.credit, a.rate = 0, 0
	}
}

func (a *allocation) perSlot(cfg Config) float64 {
	total := 0.0
	for _, c := range a.codes {
		total += cfg.SlotBytes(c.SF)
	}
	return total
}

// sf returns the factor used for processing gain: the finest code held, or
// the common-channel factor without an allocation.
func (a *allocation) sf(cfg Config) int {
	sf := 0
	for _, c := range a.codes {
		if sf == 0 || c.SF < sf {
			sf = c.SF
		}
	}
	if sf == 0 {
		return cfg.CommonSF
	}
	return sf
}

// buildFrame banks one slot of capacity and pulls every head-of-line PDU that
// fits. With more than one code the PDUs are spread over per-code sub-frames,
// each PDU going to the code with the lowest load relative to its capacity.
// Returns nil when nothing fits.
func (a *allocation) buildFrame(cfg Config, q *packet.Queue, src, dst sim.NodeID) *packet.Packet {
	if len(a.codes) == 0 {
		return nil
	}
	per := a.perSlot(cfg)
	a.credit = math.Min(a.credit+per, math.Max(per*float64(cfg.CreditSlots), cfg.MinCreditBytes))

	var pdus []*packet.Packet
	for q.Len() > 0 {
		size := float64(q.Peek().Ctrl.Common.Size)
		if size > a.credit {
			break
		}
		a.credit -= size
		pdus = append(pdus, q.Dequeue())
	}
	if len(pdus) == 0 {
		return nil
	}
	bytes := 0
	for _, p := range pdus {
		bytes += p.Ctrl.Common.Size
	}
	a.rate = usedRate(cfg, bytes)

	if len(a.codes) == 1 {
		return newFrame(pdus, a.codes[0], src, dst)
	}
	load := make([]float64, len(a.codes))
	groups := make([][]*packet.Packet, len(a.codes))
	for _, p := range pdus {
		best := 0
		for i, c := range a.codes {
			if load[i]/cfg.SlotBytes(c.SF) < load[best]/cfg.SlotBytes(a.codes[best].SF) {
				best = i
			}
		}
		load[best] += float64(p.Ctrl.Common.Size)
		groups[best] = append(groups[best], p)
	}
	outer := packet.New(nil, packet.Common{MsgType: packet.MsgFrame, Channel: packet.DCH, Kind: packet.KindDedicated})
	outer.Ctrl.Phy.Src, outer.Ctrl.Phy.Dst = src, dst
	outer.Ctrl.Phy.SubFrames = packet.NewQueue(0)
	for i, g := range groups {
		if len(g) == 0 {
			continue
		}
		f := newFrame(g, a.codes[i], src, dst)
		outer.Ctrl.Phy.SubFrames.Enqueue(f)
		outer.Ctrl.Common.Size += f.Ctrl.Common.Size
	}
	return outer
}

// usedRate converts bytes carried in one slot to bit/s.
func usedRate(cfg Config, bytes int) float64 {
	return float64(bytes) * 8 / cfg.SlotDuration.Seconds()
}

func newFrame(pdus []*packet.Packet, code codetree.Code, src, dst sim.NodeID) *packet.Packet {
	f := packet.New(nil, packet.Common{MsgType: packet.MsgFrame, Channel: packet.DCH, Kind: packet.KindDedicated})
	f.Ctrl.Phy.Src, f.Ctrl.Phy.Dst = src, dst
	f.Ctrl.Phy.SF, f.Ctrl.Phy.Code = code.SF, code.Index
	f.Ctrl.Phy.SubFrames = packet.NewQueue(0)
	for _, p := range pdus {
		f.Ctrl.Phy.SubFrames.Enqueue(p)
		f.Ctrl.Common.Size += p.Ctrl.Common.Size
	}
	return f
}

// isPayload reports whether p carries upper-layer data rather than a physical-layer procedure.
func isPayload(p *packet.Packet) bool {
	switch p.Ctrl.Common.MsgType {
	case packet.MsgData, packet.MsgAck, packet.MsgControl, packet.MsgFrame:
		return true
	}
	return false
}
