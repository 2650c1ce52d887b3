package mac

import (
	"fmt"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// HeaderSize is the length of the link header.
const HeaderSize = 2

// Discriminator bytes. Terminal-originated traffic has the high bit set.
const (
	discDedicated byte = 0x01
	discCommon    byte = 0x02
	discBroadcast byte = 0x03
	discMulticast byte = 0x04
	discAck       byte = 0x05
	discUplink    byte = 0x80
)

// Header is the decoded link header.
type Header struct {
	Kind   packet.Kind
	Uplink bool // sent by a terminal
	Class  packet.TrafficClass
	Slot   uint8 // terminal slot, 4 bits
}

// TerminalSlot maps a terminal to its 4-bit header slot.
func TerminalSlot(ue sim.NodeID) uint8 {
	return uint8(ue % 16)
}

// Encode packs the header. Terminals may not send broadcast or multicast traffic.
func (h Header) Encode() ([HeaderSize]byte, error) {
	var out [HeaderSize]byte
	var d byte
	switch h.Kind {
	case packet.KindDedicated:
		d = discDedicated
	case packet.KindCommon:
		d = discCommon
	case packet.KindBroadcast:
		d = discBroadcast
	case packet.KindMulticast:
		d = discMulticast
	case packet.KindAck:
		d = discAck
	default:
		return out, fmt.Errorf("mac: unknown kind %d", h.Kind)
	}
	if h.Uplink {
		if h.Kind == packet.KindBroadcast || h.Kind == packet.KindMulticast {
			return out, fmt.Errorf("mac: terminal cannot send %s traffic", h.Kind)
		}
		d |= discUplink
	}
	if h.Class > 0x0f || h.Slot > 0x0f {
		return out, fmt.Errorf("mac: class %d or slot %d exceeds 4 bits", h.Class, h.Slot)
	}
	out[0] = d
	out[1] = byte(h.Class)<<4 | h.Slot
	return out, nil
}

// DecodeHeader parses a link header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("mac: header needs %d bytes, got %d", HeaderSize, len(b))
	}
	h := Header{
		Uplink: b[0]&discUplink != 0,
		Class:  packet.TrafficClass(b[1] >> 4),
		Slot:   b[1] & 0x0f,
	}
	switch b[0] &^ discUplink {
	case discDedicated:
		h.Kind = packet.KindDedicated
	case discCommon:
		h.Kind = packet.KindCommon
	case discBroadcast:
		h.Kind = packet.KindBroadcast
	case discMulticast:
		h.Kind = packet.KindMulticast
	case discAck:
		h.Kind = packet.KindAck
	default:
		return Header{}, fmt.Errorf("mac: unknown discriminator %#02x", b[0])
	}
	if h.Uplink && (h.Kind == packet.KindBroadcast || h.Kind == packet.KindMulticast) {
		return Header{}, fmt.Errorf("mac: uplink %s discriminator %#02x", h.Kind, b[0])
	}
	return h, nil
}
