package rlc

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the length of every RLC header (AM, UM and status).
const HeaderSize = 5

const (
	amSNMask = 0x0fff
	umSNMask = 0x03ff
	ackMask  = 0x03ff
	maxLI    = 0x7f
)

// AMHeader is the acknowledged-mode data header.
//
//	byte 0-1: D/C(1) RSEG(1) P(1) LAST(1) SN(12)
//	byte 2:   LI(7) E(1)
//	byte 3:   last-fragment SN (low 8 bits)
//	byte 4:   first-fragment SN (low 8 bits)
type AMHeader struct {
	Resegmented bool // set on retransmissions
	Poll        bool // sender requests a status report
	Last        bool // last fragment of its SDU
	SN          uint16
	Length      uint8 // payload bytes, 7 bits
	Extension   bool
	LastFrag    uint8
	FirstFrag   uint8
}

// Encode packs the header. DC is always 0 (data).
func (h AMHeader) Encode() ([HeaderSize]byte, error) {
	var b [HeaderSize]byte
	if h.SN > amSNMask || h.Length > maxLI {
		return b, fmt.Errorf("rlc: AM SN %d or length %d out of range", h.SN, h.Length)
	}
	w := h.SN
	if h.Resegmented {
		w |= 1 << 14
	}
	if h.Poll {
		w |= 1 << 13
	}
	if h.Last {
		w |= 1 << 12
	}
	binary.BigEndian.PutUint16(b[0:2], w)
	b[2] = h.Length<<1 | boolBit(h.Extension)
	b[3] = h.LastFrag
	b[4] = h.FirstFrag
	return b, nil
}

// DecodeAMHeader parses an acknowledged-mode data header.
func DecodeAMHeader(b []byte) (AMHeader, error) {
	if len(b) < HeaderSize {
		return AMHeader{}, fmt.Errorf("rlc: AM header needs %d bytes, got %d", HeaderSize, len(b))
	}
	w := binary.BigEndian.Uint16(b[0:2])
	if w&(1<<15) != 0 {
		return AMHeader{}, fmt.Errorf("rlc: control PDU where data expected")
	}
	return AMHeader{
		Resegmented: w&(1<<14) != 0,
		Poll:        w&(1<<13) != 0,
		Last:        w&(1<<12) != 0,
		SN:          w & amSNMask,
		Length:      b[2] >> 1,
		Extension:   b[2]&1 != 0,
		LastFrag:    b[3],
		FirstFrag:   b[4],
	}, nil
}

// UMHeader is the unacknowledged-mode data header.
//
//	byte 0-1: D/C(1) RSEG(1) SN(10) LN(2) reserved(2)
//	byte 2:   LI(7) E(1)
//	byte 3:   last-fragment SN (low 8 bits)
//	byte 4:   first-fragment SN (low 8 bits)
type UMHeader struct {
	Resegmented bool
	SN          uint16
	LastNumber  uint8 // SDU counter modulo 4
	Length      uint8
	Extension   bool
	LastFrag    uint8
	FirstFrag   uint8
}

// Encode packs the header.
func (h UMHeader) Encode() ([HeaderSize]byte, error) {
	var b [HeaderSize]byte
	if h.SN > umSNMask || h.LastNumber > 3 || h.Length > maxLI {
		return b, fmt.Errorf("rlc: UM SN %d, LN %d or length %d out of range", h.SN, h.LastNumber, h.Length)
	}
	w := h.SN<<4 | uint16(h.LastNumber)<<2
	if h.Resegmented {
		w |= 1 << 14
	}
	binary.BigEndian.PutUint16(b[0:2], w)
	b[2] = h.Length<<1 | boolBit(h.Extension)
	b[3] = h.LastFrag
	b[4] = h.FirstFrag
	return b, nil
}

// DecodeUMHeader parses an unacknowledged-mode data header.
func DecodeUMHeader(b []byte) (UMHeader, error) {
	if len(b) < HeaderSize {
		return UMHeader{}, fmt.Errorf("rlc: UM header needs %d bytes, got %d", HeaderSize, len(b))
	}
	w := binary.BigEndian.Uint16(b[0:2])
	if w&(1<<15) != 0 {
		return UMHeader{}, fmt.Errorf("rlc: control PDU where data expected")
	}
	return UMHeader{
		Resegmented: w&(1<<14) != 0,
		SN:          (w >> 4) & umSNMask,
		LastNumber:  uint8(w>>2) & 0x3,
		Length:      b[2] >> 1,
		Extension:   b[2]&1 != 0,
		LastFrag:    b[3],
		FirstFrag:   b[4],
	}, nil
}

// StatusType is the kind of a status PDU.
type StatusType uint8

const (
	StatusAck       StatusType = iota // cumulative: everything before Ack arrived
	StatusSelective                   // Ack plus a run of Nack missing fragments
	StatusReset                       // discard state; Ack and Ext carry the new 12-bit SN
)

func (t StatusType) String() string {
	switch t {
	case StatusAck:
		return "ack"
	case StatusSelective:
		return "selective"
	case StatusReset:
		return "reset"
	}
	return fmt.Sprintf("StatusType(%d)", uint8(t))
}

// StatusHeader is the acknowledgment header.
//
//	byte 0-1: D/C(1)=1 TYPE(3) ACK(10) EXT(2)
//	byte 2:   NACK count
//	byte 3:   last buffered fragment SN (low 8 bits)
//	byte 4:   first buffered fragment SN (low 8 bits)
type StatusHeader struct {
	Type      StatusType
	Ack       uint16 // next expected SN, 10 bits
	Ext       uint8  // 2 bits
	Nack      uint8
	LastFrag  uint8
	FirstFrag uint8
}

// Encode packs the header with D/C set.
func (h StatusHeader) Encode() ([HeaderSize]byte, error) {
	var b [HeaderSize]byte
	if h.Type > 7 || h.Ack > ackMask || h.Ext > 3 {
		return b, fmt.Errorf("rlc: status type %d, ack %d or ext %d out of range", h.Type, h.Ack, h.Ext)
	}
	w := uint16(1)<<15 | uint16(h.Type)<<12 | h.Ack<<2 | uint16(h.Ext)
	binary.BigEndian.PutUint16(b[0:2], w)
	b[2] = h.Nack
	b[3] = h.LastFrag
	b[4] = h.FirstFrag
	return b, nil
}

// DecodeStatusHeader parses an acknowledgment header.
func DecodeStatusHeader(b []byte) (StatusHeader, error) {
	if len(b) < HeaderSize {
		return StatusHeader{}, fmt.Errorf("rlc: status header needs %d bytes, got %d", HeaderSize, len(b))
	}
	w := binary.BigEndian.Uint16(b[0:2])
	if w&(1<<15) == 0 {
		return StatusHeader{}, fmt.Errorf("rlc: data PDU where status expected")
	}
	return StatusHeader{
		Type:      StatusType((w >> 12) & 0x7),
		Ack:       (w >> 2) & ackMask,
		Ext:       uint8(w & 0x3),
		Nack:      b[2],
		LastFrag:  b[3],
		FirstFrag: b[4],
	}, nil
}

// IsControl reports whether a PDU starts with a status header.
func IsControl(b []byte) bool {
	return len(b) > 0 && b[0]&0x80 != 0
}

func boolBit(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
