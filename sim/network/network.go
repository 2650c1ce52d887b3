// Package network builds a complete radio network from a scenario and runs it
// on one shared event clock.
package network

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/channel"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/manager"
	"github.com/umts-sim/umts-sim/sim/metrics"
	"github.com/umts-sim/umts-sim/sim/phy"
	"github.com/umts-sim/umts-sim/sim/rlc"
	"github.com/umts-sim/umts-sim/sim/rrc"
	"github.com/umts-sim/umts-sim/sim/scenario"
	"github.com/umts-sim/umts-sim/sim/trace"
	"github.com/umts-sim/umts-sim/sim/traffic"
)

// Config groups the per-layer constants applied to every node.
type Config struct {
	Phy     phy.Config
	RLC     rlc.Config
	RRC     rrc.Config
	Manager manager.Config
}

// DefaultConfig returns the default constants of every layer.
func DefaultConfig() Config {
	return Config{
		Phy:     phy.DefaultConfig(),
		RLC:     rlc.DefaultConfig(),
		RRC:     rrc.DefaultConfig(),
		Manager: manager.DefaultConfig(),
	}
}

// Network owns every node of a scenario and the clock they share.
type Network struct {
	scenario  *scenario.Scenario
	runner    engine.Runner
	rng       *sim.PartitionedRNG
	metrics   *metrics.Collector
	trace     *trace.SimulationTrace
	registry  *manager.Registry
	stations  map[sim.NodeID]*StationNode
	terminals map[sim.NodeID]*TerminalNode
	sIDs      []sim.NodeID
	tIDs      []sim.NodeID
	recorder  *Recorder
	sources   []*traffic.Source
	skipped   int
	hasRun    bool
}

// Build validates s and assembles every node it describes.
func Build(s *scenario.Scenario, cfg Config) (*Network, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := cfg.Phy.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RLC.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RRC.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Manager.Validate(); err != nil {
		return nil, err
	}

	n := &Network{
		scenario:  s,
		runner:    engine.New(engine.Kind(s.Engine)),
		rng:       sim.NewPartitionedRNGWith(sim.NewSimulationKey(s.Seed), sim.Generator(s.RNG)),
		metrics:   metrics.NewCollector(),
		trace:     trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(s.Trace)}),
		registry:  manager.NewRegistry(),
		stations:  make(map[sim.NodeID]*StationNode),
		terminals: make(map[sim.NodeID]*TerminalNode),
	}
	n.recorder = NewRecorder()

	loss := channel.DefaultLogDistance()
	if s.Loss.Frequency > 0 {
		loss.Frequency = s.Loss.Frequency
	}
	if s.Loss.Exponent > 0 {
		loss.Exponent = s.Loss.Exponent
	}
	if s.Loss.Reference > 0 {
		loss.RefDistance = s.Loss.Reference
	}
	if s.Loss.Shadowing > 0 {
		loss.WithShadowing(s.Loss.Shadowing, n.rng.Source(sim.SubsystemChannel))
	}

	d := &deps{
		cfg:     cfg,
		sched:   n.runner,
		rng:     n.rng,
		loss:    loss,
		reg:     n.registry,
		metrics: n.metrics,
		trace:   n.trace,
	}
	for _, st := range s.Stations {
		id := sim.NodeID(st.ID)
		node := newStation(d, id, st.Model(), st.Gain, st.Radius, st.Frequency)
		node.Manager.SetSink(n.recorder)
		n.stations[id] = node
		n.sIDs = append(n.sIDs, id)
	}
	for _, t := range s.Terminals {
		id := sim.NodeID(t.ID)
		node := newTerminal(d, id, t.Model(), t.Gain)
		node.Manager.SetSink(n.recorder)
		n.terminals[id] = node
		n.tIDs = append(n.tIDs, id)
	}
	slices.Sort(n.sIDs)
	slices.Sort(n.tIDs)
	logrus.Infof("network: %d stations, %d terminals, %d flows, %d services", len(n.sIDs), len(n.tIDs), len(s.Flows), len(s.Services))
	return n, nil
}

// Scheduler exposes the clock so callers can inject events before Run.
func (n *Network) Scheduler() engine.Scheduler { return n.runner }

// Metrics returns the run's metrics collector.
func (n *Network) Metrics() *metrics.Collector { return n.metrics }

// Trace returns the decision trace, nil when tracing is off.
func (n *Network) Trace() *trace.SimulationTrace { return n.trace }

// Registry returns the station registry.
func (n *Network) Registry() *manager.Registry { return n.registry }

// Station returns the stack of station id.
func (n *Network) Station(id sim.NodeID) (*StationNode, bool) {
	s, ok := n.stations[id]
	return s, ok
}

// Terminal returns the stack of terminal id.
func (n *Network) Terminal(id sim.NodeID) (*TerminalNode, bool) {
	t, ok := n.terminals[id]
	return t, ok
}

// Sources returns the traffic sources started so far, in start order.
func (n *Network) Sources() []*traffic.Source { return slices.Clone(n.sources) }

// Run starts every node, schedules the scenario's traffic and runs the clock
// to the horizon. Panics if called more than once.
func (n *Network) Run() *Report {
	if n.hasRun {
		panic("Network.Run() called more than once")
	}
	n.hasRun = true

	for _, id := range n.sIDs {
		n.stations[id].start()
	}
	for _, id := range n.tIDs {
		n.terminals[id].start()
	}
	for i := range n.scenario.Flows {
		f := n.scenario.Flows[i]
		n.runner.Schedule(sim.Time(f.Start), func(sim.Time) { n.startFlow(&f) })
	}
	for i := range n.scenario.Services {
		svc := n.scenario.Services[i]
		n.runner.Schedule(sim.Time(svc.Start), func(sim.Time) { n.startService(&svc) })
	}

	horizon := n.scenario.HorizonTime()
	n.runner.Run(horizon)

	for _, id := range n.tIDs {
		n.terminals[id].stop()
	}
	for _, id := range n.sIDs {
		n.stations[id].stop()
	}
	return n.report(horizon)
}

func (n *Network) newSource(out traffic.Sender, t scenario.TrafficSpec, rate float64) *traffic.Source {
	smp, err := traffic.NewSampler(traffic.Process(t.Process), rate, t.Size, t.CV)
	if err != nil {
		panic("Network: " + err.Error()) // Validate has checked the process
	}
	src := traffic.NewSource(n.runner, out, smp, n.rng.Source(sim.SubsystemTraffic), t.Size, sim.Time(t.Stop))
	n.sources = append(n.sources, src)
	return src
}

func (n *Network) startFlow(f *scenario.FlowSpec) {
	now := n.runner.Now()
	term := n.terminals[sim.NodeID(f.Terminal)]
	app, _ := rrc.ParseAppClass(f.App)
	var err error
	if f.Direction == scenario.DirectionUplink {
		_, err = term.Manager.OpenFlow(app, f.Rate, n.newSource(term.Manager, f.TrafficSpec, f.Rate))
	} else {
		st, ok := n.stations[term.Manager.Serving()]
		if !ok {
			err = fmt.Errorf("%w: terminal %d out of coverage", rrc.ErrNotAttached, f.Terminal)
		} else {
			_, err = st.Manager.OpenFlow(term.Manager.ID(), app, f.Rate, n.newSource(st.Manager, f.TrafficSpec, f.Rate))
		}
	}
	if err != nil {
		n.skipped++
		logrus.Warnf("[tick %07d] network: %s %s flow of terminal %d not started: %v", now.Micros(), f.Direction, f.App, f.Terminal, err)
	}
}

func (n *Network) startService(svc *scenario.ServiceSpec) {
	now := n.runner.Now()
	st := n.stations[sim.NodeID(svc.Station)]
	app, _ := rrc.ParseAppClass(svc.App)
	if _, err := st.Manager.OpenService(svc.Name, app, svc.Rate, n.newSource(st.Manager, svc.TrafficSpec, svc.Rate)); err != nil {
		n.skipped++
		logrus.Warnf("[tick %07d] network: service %q at station %d not started: %v", now.Micros(), svc.Name, svc.Station, err)
		return
	}
	for _, ue := range svc.Subscribers {
		if !st.Manager.Subscribe(svc.Name, sim.NodeID(ue)) {
			logrus.Warnf("[tick %07d] network: terminal %d not attached to station %d; not subscribed to %q", now.Micros(), ue, svc.Station, svc.Name)
		}
	}
}
