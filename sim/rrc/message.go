package rrc

import (
	"encoding/binary"
	"fmt"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/codetree"
)

// MessageType discriminates signalling messages. It is the first byte on the wire.
type MessageType uint8

const (
	MsgConnectionRequest MessageType = iota + 1
	MsgConnectionSetup
	MsgPaging
	MsgPagingAck
	MsgRelease
	MsgReleaseAll
)

func (t MessageType) String() string {
	switch t {
	case MsgConnectionRequest:
		return "ConnectionRequest"
	case MsgConnectionSetup:
		return "ConnectionSetup"
	case MsgPaging:
		return "Paging"
	case MsgPagingAck:
		return "PagingAck"
	case MsgRelease:
		return "Release"
	case MsgReleaseAll:
		return "ReleaseAll"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// Message is one signalling message.
type Message interface {
	Type() MessageType
	appendTo(b []byte) []byte
}

// ConnectionRequest asks the station to admit an uplink flow.
type ConnectionRequest struct {
	Flow sim.FlowID
	App  AppClass
	Rate uint32 // user bits per second
}

// ConnectionSetup answers a request or a paging acknowledgement. A rejected
// setup carries the delay after which the terminal may ask again.
type ConnectionSetup struct {
	Flow       sim.FlowID
	Accepted   bool
	RetryAfter sim.Time // rounded up to whole microseconds on the wire
	Codes      []codetree.Code
}

// Paging announces a downlink acknowledged-mode flow to a terminal.
type Paging struct {
	Flow sim.FlowID
	App  AppClass
	Rate uint32
}

// PagingAck answers a paging.
type PagingAck struct {
	Flow sim.FlowID
}

// Release ends one flow.
type Release struct {
	Flow sim.FlowID
}

// ReleaseAll ends every flow between the two peers.
type ReleaseAll struct{}

func (ConnectionRequest) Type() MessageType { return MsgConnectionRequest }
func (ConnectionSetup) Type() MessageType   { return MsgConnectionSetup }
func (Paging) Type() MessageType            { return MsgPaging }
func (PagingAck) Type() MessageType         { return MsgPagingAck }
func (Release) Type() MessageType           { return MsgRelease }
func (ReleaseAll) Type() MessageType        { return MsgReleaseAll }

func (m ConnectionRequest) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(m.Flow))
	b = append(b, byte(m.App))
	return binary.BigEndian.AppendUint32(b, m.Rate)
}

func (m ConnectionSetup) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(m.Flow))
	var flags byte
	if m.Accepted {
		flags = 1
	}
	b = append(b, flags)
	b = binary.BigEndian.AppendUint32(b, uint32((m.RetryAfter+sim.Microsecond-1)/sim.Microsecond))
	b = append(b, byte(len(m.Codes)))
	for _, c := range m.Codes {
		b = binary.BigEndian.AppendUint16(b, uint16(c.SF))
		b = binary.BigEndian.AppendUint16(b, uint16(c.Index))
	}
	return b
}

func (m Paging) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(m.Flow))
	b = append(b, byte(m.App))
	return binary.BigEndian.AppendUint32(b, m.Rate)
}

func (m PagingAck) appendTo(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(m.Flow))
}

func (m Release) appendTo(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(m.Flow))
}

func (ReleaseAll) appendTo(b []byte) []byte { return b }

// Marshal encodes m with its type byte.
func Marshal(m Message) []byte {
	return m.appendTo([]byte{byte(m.Type())})
}

// Unmarshal decodes one message.
func Unmarshal(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("rrc: empty message")
	}
	t, body := MessageType(b[0]), b[1:]
	need := map[MessageType]int{
		MsgConnectionRequest: 9,
		MsgConnectionSetup:   10,
		MsgPaging:            9,
		MsgPagingAck:         4,
		MsgRelease:           4,
		MsgReleaseAll:        0,
	}
	n, known := need[t]
	if !known {
		return nil, fmt.Errorf("rrc: unknown message type %d", b[0])
	}
	if len(body) < n {
		return nil, fmt.Errorf("rrc: %s needs %d bytes, got %d", t, n, len(body))
	}
	be := binary.BigEndian
	switch t {
	case MsgConnectionRequest:
		return ConnectionRequest{Flow: sim.FlowID(be.Uint32(body)), App: AppClass(body[4]), Rate: be.Uint32(body[5:])}, nil
	case MsgPaging:
		return Paging{Flow: sim.FlowID(be.Uint32(body)), App: AppClass(body[4]), Rate: be.Uint32(body[5:])}, nil
	case MsgConnectionSetup:
		m := ConnectionSetup{
			Flow:       sim.FlowID(be.Uint32(body)),
			Accepted:   body[4]&1 != 0,
			RetryAfter: sim.Time(be.Uint32(body[5:])) * sim.Microsecond,
		}
		count := int(body[9])
		codes := body[10:]
		if len(codes) < 4*count {
			return nil, fmt.Errorf("rrc: %s truncated code list", t)
		}
		for i := 0; i < count; i++ {
			m.Codes = append(m.Codes, codetree.Code{SF: int(be.Uint16(codes[4*i:])), Index: int(be.Uint16(codes[4*i+2:]))})
		}
		return m, nil
	case MsgPagingAck:
		return PagingAck{Flow: sim.FlowID(be.Uint32(body))}, nil
	case MsgRelease:
		return Release{Flow: sim.FlowID(be.Uint32(body))}, nil
	}
	return ReleaseAll{}, nil
}
