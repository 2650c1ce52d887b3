// Package channel carries frames between one base station and its terminals.
//
// A Shared channel reaches every registered terminal (broadcast, multicast and
// common traffic in the downlink, random access in the uplink). A Dedicated
// channel links the station to exactly one terminal and owns the transmit
// power of both directions, which closed-loop power control steps up and down.
// Every delivery is scheduled on the event clock after the propagation delay
// and carries its own copy of the packet.
package channel

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

// Endpoint is a radio attached to a channel.
type Endpoint interface {
	ID() sim.NodeID
	Position(now sim.Time) r3.Vec
	AntennaGain() float64 // dBi
}

// Receiver is an endpoint that accepts deliveries.
type Receiver interface {
	Endpoint
	ReceiveFromChannel(p *packet.Packet)
}

// Terminal is the terminal side of a channel. It is told when a dedicated
// binding to its station comes up or goes away.
type Terminal interface {
	Receiver
	OnBind(d *Dedicated)
	OnUnbind(d *Dedicated)
}

// LossModel returns the propagation loss in dB between two positions.
type LossModel interface {
	Loss(a, b r3.Vec) float64
}

// LossFunc adapts a function to LossModel.
type LossFunc func(a, b r3.Vec) float64

// Loss implements LossModel.
func (f LossFunc) Loss(a, b r3.Vec) float64 { return f(a, b) }

// ReceivedPower returns the power in dBm at rx for a transmission of txPower dBm from tx.
func ReceivedPower(loss LossModel, now sim.Time, tx, rx Endpoint, txPower float64) float64 {
	return txPower + tx.AntennaGain() + rx.AntennaGain() - loss.Loss(tx.Position(now), rx.Position(now))
}

// PropagationDelay returns the one-way delay between tx and rx.
func PropagationDelay(now sim.Time, tx, rx Endpoint) sim.Time {
	d := r3.Norm(r3.Sub(tx.Position(now), rx.Position(now)))
	return sim.Seconds(d / SpeedOfLight)
}

// deliver schedules a copy of p at rx. stillValid is re-checked when the
// delivery fires so that frames in flight to a removed endpoint vanish.
func deliver(s engine.Scheduler, loss LossModel, tx Endpoint, rx Receiver, p *packet.Packet, stillValid func() bool) {
	now := s.Now()
	cp := p.Copy()
	cp.Ctrl.Phy.RxPower = ReceivedPower(loss, now, tx, rx, p.Ctrl.Phy.TxPower)
	s.Schedule(PropagationDelay(now, tx, rx), func(sim.Time) {
		if stillValid != nil && !stillValid() {
			return
		}
		rx.ReceiveFromChannel(cp)
	})
}
