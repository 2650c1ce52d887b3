package channel

import (
	"math"

	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// PowerLimits bounds the transmit power of one direction, in dBm.
type PowerLimits struct {
	Initial, Min, Max float64
}

// Dedicated is the point-to-point channel between a station and one terminal.
type Dedicated struct {
	sched    engine.Scheduler
	loss     LossModel
	station  Receiver
	terminal Terminal

	up, down           float64 // current transmit power, dBm
	upLimit, downLimit PowerLimits
	bound              bool
}

// NewDedicated creates an unbound dedicated channel.
func NewDedicated(s engine.Scheduler, loss LossModel, station Receiver, terminal Terminal, uplink, downlink PowerLimits) *Dedicated {
	if s == nil || loss == nil || station == nil || terminal == nil {
		panic("NewDedicated: scheduler, loss model, station and terminal must not be nil")
	}
	return &Dedicated{
		sched:     s,
		loss:      loss,
		station:   station,
		terminal:  terminal,
		up:        uplink.Initial,
		down:      downlink.Initial,
		upLimit:   uplink,
		downLimit: downlink,
	}
}

// Bind brings the channel up and tells the terminal. Binding twice is a no-op.
func (d *Dedicated) Bind() {
	if d.bound {
		return
	}
	d.bound = true
	d.terminal.OnBind(d)
}

// Unbind tears the channel down. Frames already in flight are dropped.
func (d *Dedicated) Unbind() {
	if !d.bound {
		return
	}
	d.bound = false
	d.terminal.OnUnbind(d)
}

// Bound reports whether the channel is up.
func (d *Dedicated) Bound() bool { return d.bound }

// Station returns the base-station side.
func (d *Dedicated) Station() Receiver { return d.station }

// Terminal returns the terminal side.
func (d *Dedicated) Terminal() Terminal { return d.terminal }

// SendDown transmits p from the station at the current downlink power.
func (d *Dedicated) SendDown(p *packet.Packet) bool {
	if !d.bound {
		return false
	}
	p.Ctrl.Phy.TxPower = d.down
	deliver(d.sched, d.loss, d.station, d.terminal, p, d.Bound)
	return true
}

// SendUp transmits p from the terminal at the current uplink power.
func (d *Dedicated) SendUp(p *packet.Packet) bool {
	if !d.bound {
		return false
	}
	p.Ctrl.Phy.TxPower = d.up
	deliver(d.sched, d.loss, d.terminal, d.station, p, d.Bound)
	return true
}

// UplinkPower returns the terminal's transmit power in dBm.
func (d *Dedicated) UplinkPower() float64 { return d.up }

// DownlinkPower returns the station's transmit power toward the terminal in dBm.
func (d *Dedicated) DownlinkPower() float64 { return d.down }

// StepUplinkPower changes the uplink power by delta dB within its limits and returns the new value.
func (d *Dedicated) StepUplinkPower(delta float64) float64 {
	d.up = clamp(d.up+delta, d.upLimit)
	return d.up
}

// StepDownlinkPower changes the downlink power by delta dB within its limits and returns the new value.
func (d *Dedicated) StepDownlinkPower(delta float64) float64 {
	d.down = clamp(d.down+delta, d.downLimit)
	return d.down
}

func clamp(v float64, l PowerLimits) float64 {
	return math.Min(math.Max(v, l.Min), l.Max)
}
