package channel

import (
	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// Shared is the common channel of one base station.
type Shared struct {
	sched   engine.Scheduler
	loss    LossModel
	station Receiver

	order     []sim.NodeID // registration order, for deterministic fan-out
	terminals map[sim.NodeID]Terminal
}

// NewShared creates the common channel of station.
func NewShared(s engine.Scheduler, loss LossModel, station Receiver) *Shared {
	if s == nil || loss == nil || station == nil {
		panic("NewShared: scheduler, loss model and station must not be nil")
	}
	return &Shared{
		sched:     s,
		loss:      loss,
		station:   station,
		terminals: make(map[sim.NodeID]Terminal),
	}
}

// Station returns the base-station endpoint.
func (c *Shared) Station() Receiver { return c.station }

// Loss returns the propagation model used by the channel.
func (c *Shared) Loss() LossModel { return c.loss }

// Scheduler returns the clock deliveries are scheduled on.
func (c *Shared) Scheduler() engine.Scheduler { return c.sched }

// AddTerminal registers t. Registering twice is a no-op that returns false.
func (c *Shared) AddTerminal(t Terminal) bool {
	if _, ok := c.terminals[t.ID()]; ok {
		return false
	}
	c.terminals[t.ID()] = t
	c.order = append(c.order, t.ID())
	return true
}

// RemoveTerminal unregisters id. Removing an unknown terminal returns false.
func (c *Shared) RemoveTerminal(id sim.NodeID) bool {
	if _, ok := c.terminals[id]; !ok {
		return false
	}
	delete(c.terminals, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Terminal returns the registered endpoint of id.
func (c *Shared) Terminal(id sim.NodeID) (Terminal, bool) {
	t, ok := c.terminals[id]
	return t, ok
}

// Terminals returns registered terminal IDs in registration order.
func (c *Shared) Terminals() []sim.NodeID {
	return append([]sim.NodeID(nil), c.order...)
}

// SendDown delivers p from the station. Broadcast reaches every terminal,
// multicast the registered members of Phy.Dsts, anything else Phy.Dst only.
// It returns the number of deliveries scheduled.
func (c *Shared) SendDown(p *packet.Packet) int {
	var targets []sim.NodeID
	switch p.Ctrl.Common.Kind {
	case packet.KindBroadcast:
		targets = c.order
	case packet.KindMulticast:
		targets = p.Ctrl.Phy.Dsts
	default:
		targets = []sim.NodeID{p.Ctrl.Phy.Dst}
	}
	n := 0
	for _, id := range targets {
		t, ok := c.terminals[id]
		if !ok {
			continue
		}
		id := id
		deliver(c.sched, c.loss, c.station, t, p, func() bool { return c.terminals[id] == t })
		n++
	}
	if n == 0 {
		logrus.Debugf("[tick %07d] shared channel of %d: no receiver for %v", c.sched.Now().Micros(), c.station.ID(), p)
	}
	return n
}

// SendUp delivers p from terminal from to the station. Unregistered senders are not heard.
func (c *Shared) SendUp(from sim.NodeID, p *packet.Packet) bool {
	t, ok := c.terminals[from]
	if !ok {
		return false
	}
	deliver(c.sched, c.loss, t, c.station, p, nil)
	return true
}
