package manager

import (
	"fmt"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/rrc"
)

// Config groups the session-layer constants.
type Config struct {
	ScanPeriod         sim.Time // coverage re-evaluation period of terminals
	InterferencePeriod sim.Time // external interference sampling period
	Hysteresis         float64  // meters a candidate must be closer than the serving station
}

// DefaultConfig returns the constants used unless a scenario overrides them.
func DefaultConfig() Config {
	return Config{
		ScanPeriod:         100 * sim.Millisecond,
		InterferencePeriod: 10 * sim.Millisecond,
		Hysteresis:         10,
	}
}

// Validate checks the constants for consistency.
func (c Config) Validate() error {
	if c.ScanPeriod <= 0 || c.InterferencePeriod <= 0 {
		return fmt.Errorf("manager: periods must be positive")
	}
	if c.Hysteresis < 0 {
		return fmt.Errorf("manager: hysteresis %v is negative", c.Hysteresis)
	}
	return nil
}

// Sink observes application data reaching a node.
type Sink interface {
	Delivered(at, peer sim.NodeID, flow sim.FlowID, size int, delay sim.Time)
}

// FlowListener follows one flow's lifecycle, typically a traffic source.
type FlowListener interface {
	FlowReady(info rrc.FlowInfo)
	FlowClosed(info rrc.FlowInfo, reason string)
}
