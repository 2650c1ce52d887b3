// Package rlc implements the retransmission (ARQ) layer.
//
// Each (flow, peer) pair owns one entity in a single mode. Acknowledged-mode
// entities fragment, number, window and retransmit; unacknowledged-mode
// entities fragment and reassemble best-effort; transparent mode carries
// signalling without a header. SDUs wait in one central admission queue and
// are handed to their entity on the TTI only while it can take them.
package rlc

import (
	"fmt"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// Mode is an entity's transmission mode.
type Mode uint8

const (
	ModeAM Mode = iota
	ModeUMFrag
	ModeUMNonFrag
	ModeBroadcast
	ModeMulticast
	ModeTransparent
)

var modeNames = [...]string{"AM", "UM-FRAG", "UM-NON-FRAG", "BROADCAST", "MULTICAST", "TM"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Acknowledged reports whether the mode retransmits.
func (m Mode) Acknowledged() bool { return m == ModeAM }

// Fragmenting reports whether SDUs are split into fixed-size fragments.
func (m Mode) Fragmenting() bool { return m == ModeAM || m == ModeUMFrag }

// Kind returns the link-layer traffic kind the mode travels as.
func (m Mode) Kind() packet.Kind {
	switch m {
	case ModeBroadcast:
		return packet.KindBroadcast
	case ModeMulticast:
		return packet.KindMulticast
	case ModeAM:
		return packet.KindDedicated
	}
	return packet.KindCommon
}

// Config groups the ARQ constants.
type Config struct {
	FragmentSize   int      // payload bytes per fragment, at most 127
	MaxFragments   int      // fragments per SDU, at most 255
	Window         int      // AM transmit window in PDUs
	RetxTimeout    sim.Time // AM retransmission timer
	MaxRetx        int      // retransmissions of one PDU before a reset
	TTI            sim.Time
	AdmissionLimit int // SDUs held by the central queue
}

// DefaultConfig returns the constants used unless a scenario overrides them.
func DefaultConfig() Config {
	return Config{
		FragmentSize:   40,
		MaxFragments:   255,
		Window:         32,
		RetxTimeout:    80 * sim.Millisecond,
		MaxRetx:        8,
		TTI:            10 * sim.Millisecond,
		AdmissionLimit: 1024,
	}
}

// Validate checks the constants for consistency.
func (c Config) Validate() error {
	switch {
	case c.FragmentSize <= 0 || c.FragmentSize > maxLI:
		return fmt.Errorf("rlc: fragment size %d outside [1,%d]", c.FragmentSize, maxLI)
	case c.MaxFragments <= 0 || c.MaxFragments > 255:
		return fmt.Errorf("rlc: max fragments %d outside [1,255]", c.MaxFragments)
	case c.Window <= 0 || c.Window > 512:
		return fmt.Errorf("rlc: window %d outside [1,512]", c.Window)
	case c.RetxTimeout <= 0 || c.TTI <= 0:
		return fmt.Errorf("rlc: timers must be positive")
	case c.MaxRetx <= 0:
		return fmt.Errorf("rlc: max retransmissions must be positive")
	}
	return nil
}

// MaxSDU returns the largest SDU a fragmenting entity accepts.
func (c Config) MaxSDU() int {
	return c.FragmentSize * c.MaxFragments
}

// FlowSpec describes one entity.
type FlowSpec struct {
	Flow  sim.FlowID
	Peer  sim.NodeID // zero for point-to-multipoint senders
	Mode  Mode
	Class packet.TrafficClass
	Src   sim.Addr     // local address
	Dst   sim.Addr     // remote address
	Dsts  []sim.NodeID // multicast receivers
}

// Key identifies an entity.
type Key struct {
	Flow sim.FlowID
	Peer sim.NodeID
}

func (k Key) String() string {
	return fmt.Sprintf("flow %d/peer %d", k.Flow, k.Peer)
}
