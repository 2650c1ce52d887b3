// Package scenario loads the YAML description of a network to simulate:
// stations, terminals, their motion, and the traffic they carry.
package scenario

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/mobility"
	"github.com/umts-sim/umts-sim/sim/rrc"
	"github.com/umts-sim/umts-sim/sim/trace"
	"github.com/umts-sim/umts-sim/sim/traffic"
)

// Scenario is the top-level scenario file.
type Scenario struct {
	Seed      int64          `yaml:"seed"`
	Horizon   time.Duration  `yaml:"horizon"`
	RNG       string         `yaml:"rng,omitempty"`    // math (default) or mrg32k3a
	Engine    string         `yaml:"engine,omitempty"` // heap (default) or evtm
	Trace     string         `yaml:"trace,omitempty"`  // none (default) or decisions
	Loss      LossSpec       `yaml:"loss"`
	Stations  []StationSpec  `yaml:"stations"`
	Terminals []TerminalSpec `yaml:"terminals"`
	Flows     []FlowSpec     `yaml:"flows,omitempty"`
	Services  []ServiceSpec  `yaml:"services,omitempty"`
}

// LossSpec configures log-distance propagation loss. Zero fields keep the defaults.
type LossSpec struct {
	Frequency float64 `yaml:"frequency,omitempty"` // Hz
	Exponent  float64 `yaml:"exponent,omitempty"`
	Reference float64 `yaml:"reference,omitempty"` // m
	Shadowing float64 `yaml:"shadowing,omitempty"` // dB sigma
}

// StationSpec places one base station.
type StationSpec struct {
	ID        uint32     `yaml:"id"`
	Position  [3]float64 `yaml:"position"`
	Radius    float64    `yaml:"radius"`    // m
	Frequency float64    `yaml:"frequency"` // downlink carrier, Hz
	Gain      float64    `yaml:"gain,omitempty"`
}

// TerminalSpec places one terminal and sets its motion.
type TerminalSpec struct {
	ID       uint32     `yaml:"id"`
	Position [3]float64 `yaml:"position"`
	Velocity [3]float64 `yaml:"velocity,omitempty"` // m/s
	Mobility string     `yaml:"mobility,omitempty"`
	Gain     float64    `yaml:"gain,omitempty"`
}

// TrafficSpec shapes the packets of a flow or service.
type TrafficSpec struct {
	Process string        `yaml:"process,omitempty"` // cbr (default), poisson, gamma
	CV      float64       `yaml:"cv,omitempty"`
	Size    int           `yaml:"size"` // bytes per packet
	Start   time.Duration `yaml:"start,omitempty"`
	Stop    time.Duration `yaml:"stop,omitempty"`
}

// FlowSpec is one point-to-point flow between a terminal and its serving station.
type FlowSpec struct {
	Terminal    uint32  `yaml:"terminal"`
	Direction   string  `yaml:"direction"` // uplink or downlink
	App         string  `yaml:"app"`
	Rate        float64 `yaml:"rate"` // bit/s
	TrafficSpec `yaml:",inline"`
}

// ServiceSpec is a broadcast or multicast service offered by a station.
type ServiceSpec struct {
	Station     uint32   `yaml:"station"`
	Name        string   `yaml:"name"`
	App         string   `yaml:"app"`
	Rate        float64  `yaml:"rate"`
	Subscribers []uint32 `yaml:"subscribers,omitempty"`
	TrafficSpec `yaml:",inline"`
}

const (
	DirectionUplink   = "uplink"
	DirectionDownlink = "downlink"
)

// Load reads and parses a scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &s, nil
}

// HorizonTime returns the horizon on the simulation clock.
func (s *Scenario) HorizonTime() sim.Time { return sim.Time(s.Horizon) }

// Validate checks that all fields in the scenario are valid.
func (s *Scenario) Validate() error {
	if s.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %v", s.Horizon)
	}
	if !sim.IsValidGenerator(s.RNG) {
		return fmt.Errorf("unknown rng %q; valid: math, mrg32k3a", s.RNG)
	}
	if !engine.IsValidKind(s.Engine) {
		return fmt.Errorf("unknown engine %q; valid: heap, evtm", s.Engine)
	}
	if !trace.IsValidTraceLevel(s.Trace) {
		return fmt.Errorf("unknown trace level %q; valid: none, decisions", s.Trace)
	}
	if err := s.Loss.validate(); err != nil {
		return err
	}
	if len(s.Stations) == 0 {
		return fmt.Errorf("at least one station required")
	}
	ids := make(map[uint32]string)
	for i, st := range s.Stations {
		prefix := fmt.Sprintf("stations[%d]", i)
		if err := claim(ids, st.ID, prefix); err != nil {
			return err
		}
		if err := validateFinitePositive(prefix+".radius", st.Radius); err != nil {
			return err
		}
		if err := validateFinitePositive(prefix+".frequency", st.Frequency); err != nil {
			return err
		}
	}
	for i, t := range s.Terminals {
		prefix := fmt.Sprintf("terminals[%d]", i)
		if err := claim(ids, t.ID, prefix); err != nil {
			return err
		}
		if _, err := mobility.New(mobility.Kind(t.Mobility), vec(t.Position), vec(t.Velocity)); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
	}
	for i, f := range s.Flows {
		if err := s.validateFlow(&f, i); err != nil {
			return err
		}
	}
	names := make(map[string]bool)
	for i, svc := range s.Services {
		if err := s.validateService(&svc, i, names); err != nil {
			return err
		}
	}
	return nil
}

func (l LossSpec) validate() error {
	for name, v := range map[string]float64{"frequency": l.Frequency, "exponent": l.Exponent, "reference": l.Reference, "shadowing": l.Shadowing} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("loss.%s must be a finite non-negative number, got %f", name, v)
		}
	}
	return nil
}

func claim(ids map[uint32]string, id uint32, prefix string) error {
	if id == 0 || id > math.MaxUint16 {
		return fmt.Errorf("%s: id must be in [1, %d], got %d", prefix, math.MaxUint16, id)
	}
	if other, ok := ids[id]; ok {
		return fmt.Errorf("%s: id %d already used by %s", prefix, id, other)
	}
	ids[id] = prefix
	return nil
}

func (s *Scenario) validateFlow(f *FlowSpec, idx int) error {
	prefix := fmt.Sprintf("flows[%d]", idx)
	if !s.hasTerminal(f.Terminal) {
		return fmt.Errorf("%s: unknown terminal %d", prefix, f.Terminal)
	}
	if f.Direction != DirectionUplink && f.Direction != DirectionDownlink {
		return fmt.Errorf("%s: unknown direction %q; valid: uplink, downlink", prefix, f.Direction)
	}
	app, err := rrc.ParseAppClass(f.App)
	if err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if app == rrc.AppBroadcast || app == rrc.AppMulticast {
		return fmt.Errorf("%s: %s traffic belongs in services", prefix, app)
	}
	if err := validateFinitePositive(prefix+".rate", f.Rate); err != nil {
		return err
	}
	return f.TrafficSpec.validate(prefix)
}

func (s *Scenario) validateService(svc *ServiceSpec, idx int, names map[string]bool) error {
	prefix := fmt.Sprintf("services[%d]", idx)
	if !s.hasStation(svc.Station) {
		return fmt.Errorf("%s: unknown station %d", prefix, svc.Station)
	}
	key := fmt.Sprintf("%d/%s", svc.Station, svc.Name)
	if svc.Name == "" || names[key] {
		return fmt.Errorf("%s: name %q must be non-empty and unique per station", prefix, svc.Name)
	}
	names[key] = true
	app, err := rrc.ParseAppClass(svc.App)
	if err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if app != rrc.AppBroadcast && app != rrc.AppMulticast {
		return fmt.Errorf("%s: app must be broadcast or multicast, got %s", prefix, app)
	}
	for _, ue := range svc.Subscribers {
		if !s.hasTerminal(ue) {
			return fmt.Errorf("%s: unknown subscriber %d", prefix, ue)
		}
	}
	if err := validateFinitePositive(prefix+".rate", svc.Rate); err != nil {
		return err
	}
	return svc.TrafficSpec.validate(prefix)
}

func (t *TrafficSpec) validate(prefix string) error {
	if !traffic.IsValidProcess(t.Process) {
		return fmt.Errorf("%s: unknown process %q; valid: cbr, poisson, gamma", prefix, t.Process)
	}
	if t.Size <= 0 {
		return fmt.Errorf("%s: size must be positive, got %d", prefix, t.Size)
	}
	if t.Start < 0 || t.Stop < 0 || (t.Stop > 0 && t.Stop <= t.Start) {
		return fmt.Errorf("%s: need 0 <= start < stop (stop 0 = never), got %v..%v", prefix, t.Start, t.Stop)
	}
	return nil
}

func (s *Scenario) hasTerminal(id uint32) bool {
	for _, t := range s.Terminals {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (s *Scenario) hasStation(id uint32) bool {
	for _, st := range s.Stations {
		if st.ID == id {
			return true
		}
	}
	return false
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, val)
	}
	return nil
}
