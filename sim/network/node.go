package network

import (
	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/channel"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/mac"
	"github.com/umts-sim/umts-sim/sim/manager"
	"github.com/umts-sim/umts-sim/sim/metrics"
	"github.com/umts-sim/umts-sim/sim/mobility"
	"github.com/umts-sim/umts-sim/sim/phy"
	"github.com/umts-sim/umts-sim/sim/rlc"
	"github.com/umts-sim/umts-sim/sim/rrc"
	"github.com/umts-sim/umts-sim/sim/trace"
)

// StationNode is the full protocol stack of one base station.
type StationNode struct {
	Phy     *phy.NodeB
	MAC     *mac.MAC
	RLC     *rlc.Layer
	RRC     *rrc.NodeB
	Manager *manager.Station
}

// TerminalNode is the full protocol stack of one terminal.
type TerminalNode struct {
	Phy     *phy.UE
	MAC     *mac.MAC
	RLC     *rlc.Layer
	RRC     *rrc.UE
	Manager *manager.Terminal
}

// deps are the simulation-wide collaborators every node shares.
type deps struct {
	cfg     Config
	sched   engine.Scheduler
	rng     *sim.PartitionedRNG
	loss    channel.LossModel
	reg     *manager.Registry
	metrics *metrics.Collector
	trace   *trace.SimulationTrace
}

// newStation assembles a base station bottom-up: each layer is created on top
// of the one below and then bound as its upper layer.
func newStation(d *deps, id sim.NodeID, mob mobility.Model, gain, radius, frequency float64) *StationNode {
	n := &StationNode{}
	n.Phy = phy.NewNodeB(id, d.cfg.Phy, d.sched, mob, gain, d.rng.Source(sim.SubsystemPhy(id)), d.metrics)
	n.Phy.SetChannel(channel.NewShared(d.sched, d.loss, n.Phy))
	n.MAC = mac.New(id, sim.NodeB, n.Phy, d.sched.Now)
	n.Phy.Bind(n.MAC)
	n.RLC = rlc.New(id, sim.NodeB, d.cfg.RLC, d.sched, n.MAC, d.metrics)
	n.MAC.Bind(n.RLC)
	n.RRC = rrc.NewNodeB(id, d.cfg.RRC, d.sched, n.RLC, n.Phy, d.rng.Source(sim.SubsystemRrc(id)), d.metrics, d.trace)
	n.RLC.Bind(n.RRC)
	n.Phy.SetResourceReporter(n.RRC)
	n.Manager = manager.NewStation(id, d.cfg.Manager, d.sched, d.reg, n.Phy, n.RRC, radius, frequency, d.metrics)
	return n
}

func newTerminal(d *deps, id sim.NodeID, mob mobility.Model, gain float64) *TerminalNode {
	n := &TerminalNode{}
	n.Phy = phy.NewUE(id, d.cfg.Phy, d.sched, mob, gain, d.rng.Source(sim.SubsystemPhy(id)), d.metrics)
	n.MAC = mac.New(id, sim.NodeUE, n.Phy, d.sched.Now)
	n.Phy.Bind(n.MAC)
	n.RLC = rlc.New(id, sim.NodeUE, d.cfg.RLC, d.sched, n.MAC, d.metrics)
	n.MAC.Bind(n.RLC)
	n.RRC = rrc.NewUE(id, d.cfg.RRC, d.sched, n.RLC, n.Phy, d.rng.Source(sim.SubsystemRrc(id)))
	n.RLC.Bind(n.RRC)
	n.Manager = manager.NewTerminal(id, d.cfg.Manager, d.sched, d.reg, n.Phy, n.RRC, d.metrics, d.trace)
	return n
}

func (n *StationNode) start() {
	n.Phy.Start()
	n.RLC.Start()
	n.Manager.Start()
}

func (n *StationNode) stop() {
	n.Manager.Stop()
	n.RLC.Stop()
	n.Phy.Stop()
}

func (n *TerminalNode) start() {
	n.Phy.Start()
	n.RLC.Start()
	n.Manager.Start()
}

func (n *TerminalNode) stop() {
	n.Manager.Stop()
	n.RLC.Stop()
	n.Phy.Stop()
}
