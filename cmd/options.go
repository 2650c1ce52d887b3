package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/network"
	"github.com/umts-sim/umts-sim/sim/scenario"
)

// Options are the run settings that live outside the scenario: logging,
// overrides of scenario-level choices, and the per-layer protocol constants.
// They come from an optional options file and CLI flags, flags winning.
type Options struct {
	Log        string         `mapstructure:"log"`
	Seed       *int64         `mapstructure:"seed"`
	Horizon    time.Duration  `mapstructure:"horizon"`
	Trace      string         `mapstructure:"trace"`
	Engine     string         `mapstructure:"engine"`
	RNG        string         `mapstructure:"rng"`
	MetricsOut string         `mapstructure:"metrics_out"`
	Phy        PhyOptions     `mapstructure:"phy"`
	RLC        RLCOptions     `mapstructure:"rlc"`
	RRC        RRCOptions     `mapstructure:"rrc"`
	Manager    ManagerOptions `mapstructure:"manager"`
}

type PhyOptions struct {
	TargetSIR    float64 `mapstructure:"target_sir"`
	MaxPreambles int     `mapstructure:"max_preambles"`
	QueueLimit   int     `mapstructure:"queue_limit"`
}

type RLCOptions struct {
	FragmentSize int           `mapstructure:"fragment_size"`
	Window       int           `mapstructure:"window"`
	RetxTimeout  time.Duration `mapstructure:"retx_timeout"`
	MaxRetx      int           `mapstructure:"max_retx"`
	TTI          time.Duration `mapstructure:"tti"`
}

type RRCOptions struct {
	MaxCodes     int           `mapstructure:"max_codes"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	SetupTimeout time.Duration `mapstructure:"setup_timeout"`
}

type ManagerOptions struct {
	ScanPeriod time.Duration `mapstructure:"scan_period"`
	Hysteresis float64       `mapstructure:"hysteresis"`
}

// SetDefaults registers the default of every option.
func SetDefaults(v *viper.Viper) {
	d := network.DefaultConfig()
	v.SetDefault("log", "warn")
	v.SetDefault("phy.target_sir", d.Phy.TargetSIR)
	v.SetDefault("phy.max_preambles", d.Phy.MaxPreambles)
	v.SetDefault("phy.queue_limit", d.Phy.QueueLimit)
	v.SetDefault("rlc.fragment_size", d.RLC.FragmentSize)
	v.SetDefault("rlc.window", d.RLC.Window)
	v.SetDefault("rlc.retx_timeout", time.Duration(d.RLC.RetxTimeout))
	v.SetDefault("rlc.max_retx", d.RLC.MaxRetx)
	v.SetDefault("rlc.tti", time.Duration(d.RLC.TTI))
	v.SetDefault("rrc.max_codes", d.RRC.MaxCodes)
	v.SetDefault("rrc.max_attempts", d.RRC.MaxAttempts)
	v.SetDefault("rrc.setup_timeout", time.Duration(d.RRC.SetupTimeout))
	v.SetDefault("manager.scan_period", time.Duration(d.Manager.ScanPeriod))
	v.SetDefault("manager.hysteresis", d.Manager.Hysteresis)
}

// LoadOptions reads the options file, if any, into v and decodes the result.
func LoadOptions(v *viper.Viper, path string) (*Options, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read options file %s: %w", path, err)
		}
	}
	var o Options
	if err := v.Unmarshal(&o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return &o, nil
}

// Apply overrides scenario-level choices that were set explicitly.
func (o *Options) Apply(s *scenario.Scenario) {
	if o.Seed != nil {
		s.Seed = *o.Seed
	}
	if o.Horizon > 0 {
		s.Horizon = o.Horizon
	}
	if o.Trace != "" {
		s.Trace = o.Trace
	}
	if o.Engine != "" {
		s.Engine = o.Engine
	}
	if o.RNG != "" {
		s.RNG = o.RNG
	}
}

// NetworkConfig returns the default layer constants with the options applied.
func (o *Options) NetworkConfig() network.Config {
	c := network.DefaultConfig()
	c.Phy.TargetSIR = o.Phy.TargetSIR
	c.Phy.MaxPreambles = o.Phy.MaxPreambles
	c.Phy.QueueLimit = o.Phy.QueueLimit
	c.RLC.FragmentSize = o.RLC.FragmentSize
	c.RLC.Window = o.RLC.Window
	c.RLC.RetxTimeout = sim.Time(o.RLC.RetxTimeout)
	c.RLC.MaxRetx = o.RLC.MaxRetx
	c.RLC.TTI = sim.Time(o.RLC.TTI)
	c.RRC.MaxCodes = o.RRC.MaxCodes
	c.RRC.MaxAttempts = o.RRC.MaxAttempts
	c.RRC.SetupTimeout = sim.Time(o.RRC.SetupTimeout)
	c.Manager.ScanPeriod = sim.Time(o.Manager.ScanPeriod)
	c.Manager.Hysteresis = o.Manager.Hysteresis
	return c
}
