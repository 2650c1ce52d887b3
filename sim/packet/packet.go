// Package packet defines the cross-layer packet descriptor and the bounded
// queue every layer uses to hold payloads awaiting transmission.
package packet

import (
	"fmt"

	"github.com/umts-sim/umts-sim/sim"
)

// MsgType is the link-layer message type.
type MsgType uint8

const (
	MsgData              MsgType = iota // user-plane PDU
	MsgAck                              // ARQ status PDU
	MsgControl                          // RRC signalling
	MsgPreamble                         // random-access preamble
	MsgAccessIndication                 // AICH reply
	MsgPowerControl                     // TPC command
	MsgResourceBroadcast                // free-code bitmap on the broadcast channel
	MsgFrame                            // PHY frame carrying sub-frames
)

var msgTypeNames = [...]string{"Data", "Ack", "Control", "Preamble", "AccessIndication", "PowerControl", "ResourceBroadcast", "Frame"}

func (m MsgType) String() string {
	if int(m) < len(msgTypeNames) {
		return msgTypeNames[m]
	}
	return fmt.Sprintf("MsgType(%d)", uint8(m))
}

// LogicalChannel is the transport channel a packet travels on.
type LogicalChannel uint8

const (
	DCH  LogicalChannel = iota // dedicated, both directions
	RACH                       // uplink common
	FACH                       // downlink common
	BCH                        // downlink broadcast
	PCH                        // downlink paging
	AICH                       // downlink access indication
)

var channelNames = [...]string{"DCH", "RACH", "FACH", "BCH", "PCH", "AICH"}

func (c LogicalChannel) String() string {
	if int(c) < len(channelNames) {
		return channelNames[c]
	}
	return fmt.Sprintf("LogicalChannel(%d)", uint8(c))
}

// Kind is the traffic kind the link layer discriminates on.
type Kind uint8

const (
	KindDedicated Kind = iota
	KindCommon
	KindBroadcast
	KindMulticast
	KindAck
)

var kindNames = [...]string{"dedicated", "common", "broadcast", "multicast", "ack"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// TrafficClass is the application traffic class carried in the link header.
type TrafficClass uint8

const (
	Conversational TrafficClass = iota
	Streaming
	Interactive
	Background
)

var classNames = [...]string{"conversational", "streaming", "interactive", "background"}

func (c TrafficClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("TrafficClass(%d)", uint8(c))
}

// ParseTrafficClass maps a scenario name to a class.
func ParseTrafficClass(s string) (TrafficClass, error) {
	for i, n := range classNames {
		if n == s {
			return TrafficClass(i), nil
		}
	}
	return 0, fmt.Errorf("unknown traffic class %q; valid: conversational, streaming, interactive, background", s)
}

// Common holds the fields every layer may read.
type Common struct {
	Src, Dst sim.Addr
	MsgType  MsgType
	Channel  LogicalChannel
	Kind     Kind
	Class    TrafficClass
	Flow     sim.FlowID
	Size     int      // bytes on the air at the current layer
	Created  sim.Time // when the application handed the SDU down
}

// Physical holds the fields the physical layer and channel fill in.
type Physical struct {
	Src, Dst   sim.NodeID
	Dsts       []sim.NodeID // multicast receivers
	Scrambling uint32
	Signature  int
	SF         int
	Code       int
	Seq, Ack   uint16
	Begin, End bool    // first/last frame of a random-access message
	TxPower    float64 // dBm
	RxPower    float64 // dBm, set by the channel on delivery
	TPC        int8    // power-control step direction, +1 or -1
	SubFrames  *Queue  // frames or PDUs carried inside this one
}

// ControlPacket is the descriptor attached to every payload.
type ControlPacket struct {
	Common Common
	Phy    Physical
}

// Copy returns a deep copy; in-flight copies never share mutable state.
func (c *ControlPacket) Copy() ControlPacket {
	out := *c
	if c.Phy.Dsts != nil {
		out.Phy.Dsts = append([]sim.NodeID(nil), c.Phy.Dsts...)
	}
	if c.Phy.SubFrames != nil {
		out.Phy.SubFrames = c.Phy.SubFrames.Copy()
	}
	return out
}

// Packet pairs a payload with its descriptor.
type Packet struct {
	Payload []byte
	Ctrl    ControlPacket
}

// New creates a packet whose size matches its payload.
func New(payload []byte, common Common) *Packet {
	common.Size = len(payload)
	return &Packet{Payload: payload, Ctrl: ControlPacket{Common: common}}
}

// Copy returns a deep copy of payload and descriptor.
func (p *Packet) Copy() *Packet {
	if p == nil {
		return nil
	}
	out := &Packet{Ctrl: p.Ctrl.Copy()}
	if p.Payload != nil {
		out.Payload = append([]byte(nil), p.Payload...)
	}
	return out
}

// Prepend adds a header in front of the payload and grows Size accordingly.
func (p *Packet) Prepend(hdr []byte) {
	buf := make([]byte, 0, len(hdr)+len(p.Payload))
	buf = append(buf, hdr...)
	p.Payload = append(buf, p.Payload...)
	p.Ctrl.Common.Size += len(hdr)
}

// Strip removes n leading payload bytes and returns them.
func (p *Packet) Strip(n int) ([]byte, error) {
	if len(p.Payload) < n {
		return nil, fmt.Errorf("strip %d bytes from %d-byte payload", n, len(p.Payload))
	}
	hdr := p.Payload[:n]
	p.Payload = p.Payload[n:]
	p.Ctrl.Common.Size -= n
	if p.Ctrl.Common.Size < 0 {
		p.Ctrl.Common.Size = 0
	}
	return hdr, nil
}

// Flatten returns the leaf packets of a frame hierarchy in order.
// A packet without sub-frames is its own leaf.
func (p *Packet) Flatten() []*Packet {
	if p.Ctrl.Phy.SubFrames == nil {
		return []*Packet{p}
	}
	var out []*Packet
	for _, sub := range p.Ctrl.Phy.SubFrames.Items() {
		out = append(out, sub.Flatten()...)
	}
	return out
}

func (p *Packet) String() string {
	c := p.Ctrl.Common
	return fmt.Sprintf("%s/%s %s->%s flow=%d size=%d", c.MsgType, c.Channel, c.Src, c.Dst, c.Flow, c.Size)
}
