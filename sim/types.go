package sim

import (
	"fmt"
	"math"
)

// NodeID identifies a simulated node (base station or terminal).
// The zero value is never assigned to a node.
type NodeID uint32

// FlowID identifies an admitted data flow.
type FlowID uint32

// Addr is a network-layer address. Every node owns exactly one, derived from its NodeID.
type Addr uint32

// AddrOf returns the network address of node id (10.x.y.z).
func AddrOf(id NodeID) Addr {
	return Addr(0x0a000000 | (uint32(id) & 0x00ffffff))
}

// Node returns the node owning the address.
func (a Addr) Node() NodeID {
	return NodeID(uint32(a) & 0x00ffffff)
}

func (a Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// NodeKind distinguishes base stations from terminals.
type NodeKind uint8

const (
	NodeB NodeKind = iota
	NodeUE
)

func (k NodeKind) String() string {
	switch k {
	case NodeB:
		return "NodeB"
	case NodeUE:
		return "UE"
	}
	return fmt.Sprintf("NodeKind(%d)", uint8(k))
}

// Time is simulated time in nanoseconds since the start of the run.
type Time int64

const (
	Nanosecond  Time = 1
	Microsecond      = 1000 * Nanosecond
	Millisecond      = 1000 * Microsecond
	Second           = 1000 * Millisecond
)

// Seconds converts a duration in seconds to Time, rounding to the nearest nanosecond.
func Seconds(s float64) Time {
	return Time(math.Round(s * float64(Second)))
}

// Seconds returns t expressed in seconds.
func (t Time) Seconds() float64 {
	return float64(t) / float64(Second)
}

// Micros returns t in whole microseconds, the unit used in log lines.
func (t Time) Micros() int64 {
	return int64(t / Microsecond)
}

func (t Time) String() string {
	return fmt.Sprintf("%.6fs", t.Seconds())
}

// DBmToMilliwatt converts a power level in dBm to milliwatts.
func DBmToMilliwatt(dbm float64) float64 {
	return math.Pow(10, dbm/10)
}

// MilliwattToDBm converts milliwatts to dBm. Non-positive input maps to -Inf.
func MilliwattToDBm(mw float64) float64 {
	if mw <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(mw)
}
