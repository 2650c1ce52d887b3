// Package phy implements the slot-synchronized physical layers of the base
// station (NodeB) and the terminal (UE).
//
// Both sides run periodic timers on the shared event clock: a slot timer that
// frames and transmits queued PDUs, and an interference timer that turns
// received power into a signal-to-interference ratio, drives closed-loop power
// control and refreshes the block-error injection rate. The NodeB additionally
// answers random-access preambles on its access-indication timer.
package phy

import (
	"fmt"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/channel"
)

// Config groups the physical-layer constants.
type Config struct {
	SlotDuration         sim.Time // one wireless slot
	AccessSlotSlots      int      // slots per random-access slot
	InterferencePeriod   sim.Time // SIR and power-control period
	UplinkErrorPeriod    sim.Time // NodeB block-error refresh period
	BroadcastPeriodSlots int      // slots between resource broadcasts
	CreditSlots          int      // slots of unused capacity a terminal may bank

	ChipsPerSlot   int
	ModulationBits int // bits per symbol
	MinSF, MaxSF   int
	CommonSF       int // spreading factor of the common channels

	Signatures     int      // random-access signatures per scrambling code
	MaxPreambles   int      // preamble attempts before access fails
	BackoffMin     int      // access slots
	BackoffMax     int      // access slots
	AICHTimeout    sim.Time // wait for an access indication before retrying
	RACHTimeout    sim.Time // NodeB releases a reserved signature after this
	PreamblePower  float64  // dBm of the first preamble
	PreambleRamp   float64  // dB added per retry
	CommonPower    float64  // dBm of NodeB common-channel transmissions
	UplinkPower    channel.PowerLimits
	DownlinkPower  channel.PowerLimits
	PowerStep      float64 // dB per power-control step
	TargetSIR      float64 // dB after processing gain
	MajorityWindow int     // unanimous power-control votes needed by the UE
	NoiseFloor     float64 // dBm over the carrier bandwidth
	Orthogonality  float64 // fraction of same-cell downlink power seen as interference
	QueueLimit     int     // per-queue packet bound
	MinCreditBytes float64 // credit cap floor so the largest PDU always fits eventually
	BLER           *BLERTable
}

// DefaultConfig returns the constants used unless a scenario overrides them.
func DefaultConfig() Config {
	return Config{
		SlotDuration:         666667 * sim.Nanosecond,
		AccessSlotSlots:      2,
		InterferencePeriod:   10 * sim.Millisecond,
		UplinkErrorPeriod:    10 * sim.Millisecond,
		BroadcastPeriodSlots: 15,
		CreditSlots:          15,
		ChipsPerSlot:         2560,
		ModulationBits:       2,
		MinSF:                4,
		MaxSF:                256,
		CommonSF:             64,
		Signatures:           16,
		MaxPreambles:         8,
		BackoffMin:           1,
		BackoffMax:           4,
		AICHTimeout:          4 * 666667 * sim.Nanosecond,
		RACHTimeout:          20 * sim.Millisecond,
		PreamblePower:        0,
		PreambleRamp:         1,
		CommonPower:          33,
		UplinkPower:          channel.PowerLimits{Initial: 0, Min: -50, Max: 21},
		DownlinkPower:        channel.PowerLimits{Initial: 20, Min: 0, Max: 33},
		PowerStep:            1,
		TargetSIR:            6,
		MajorityWindow:       5,
		NoiseFloor:           -103,
		Orthogonality:        0.4,
		QueueLimit:           512,
		MinCreditBytes:       256,
		BLER:                 DefaultBLERTable(),
	}
}

// AccessSlot returns the duration of one random-access slot.
func (c Config) AccessSlot() sim.Time {
	return sim.Time(c.AccessSlotSlots) * c.SlotDuration
}

// SlotBytes returns how many bytes one code of factor sf carries per slot.
func (c Config) SlotBytes(sf int) float64 {
	return float64(c.ChipsPerSlot) / float64(sf) * float64(c.ModulationBits) / 8
}

// Validate checks the constants for consistency.
func (c Config) Validate() error {
	switch {
	case c.SlotDuration <= 0:
		return fmt.Errorf("phy: slot duration must be positive")
	case c.AccessSlotSlots <= 0:
		return fmt.Errorf("phy: access slot must span at least one slot")
	case c.InterferencePeriod <= 0 || c.UplinkErrorPeriod <= 0:
		return fmt.Errorf("phy: interference and error periods must be positive")
	case c.BroadcastPeriodSlots <= 0:
		return fmt.Errorf("phy: broadcast period must be positive")
	case c.MinSF <= 0 || c.MinSF > c.MaxSF:
		return fmt.Errorf("phy: invalid spreading factor range [%d,%d]", c.MinSF, c.MaxSF)
	case c.Signatures <= 0:
		return fmt.Errorf("phy: signatures must be positive")
	case c.MaxPreambles <= 0:
		return fmt.Errorf("phy: max preambles must be positive")
	case c.BackoffMin < 0 || c.BackoffMax < c.BackoffMin:
		return fmt.Errorf("phy: invalid backoff range [%d,%d]", c.BackoffMin, c.BackoffMax)
	case c.MajorityWindow <= 0:
		return fmt.Errorf("phy: majority window must be positive")
	case c.PowerStep <= 0:
		return fmt.Errorf("phy: power step must be positive")
	case c.BLER == nil:
		return fmt.Errorf("phy: %w: table missing", ErrBadBLERTable)
	}
	return nil
}

// sirToBLER is shared by both sides.
func (c Config) sirToBLER(sir float64) float64 {
	return c.BLER.Lookup(sir)
}
