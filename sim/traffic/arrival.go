// Package traffic provides the application sources that feed data into open
// flows: constant bit rate, Poisson and bursty Gamma arrivals.
package traffic

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/umts-sim/umts-sim/sim"
)

// Sampler generates inter-arrival times.
type Sampler interface {
	// Next returns the time to the next packet. Always positive.
	Next(rng sim.RandSource) sim.Time
}

// Constant spaces packets evenly.
type Constant struct {
	interval sim.Time
}

func (s *Constant) Next(sim.RandSource) sim.Time { return s.interval }

// Poisson draws exponentially distributed gaps (CV=1).
type Poisson struct {
	mean float64 // ns
}

func (s *Poisson) Next(rng sim.RandSource) sim.Time {
	return atLeastOne(-math.Log(1-rng.Float64()) * s.mean)
}

// Gamma draws Gamma distributed gaps. CV > 1 gives bursty arrivals.
type Gamma struct {
	shape float64 // 1/CV²
	scale float64 // mean*CV², ns
}

func (s *Gamma) Next(rng sim.RandSource) sim.Time {
	return atLeastOne(gammaRand(rng, s.shape, s.scale))
}

// gammaRand samples Gamma(shape, scale) with Marsaglia-Tsang, using
// Gamma(a) = Gamma(a+1) * U^(1/a) for shape < 1.
func gammaRand(rng sim.RandSource, shape, scale float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

func atLeastOne(ns float64) sim.Time {
	if ns < 1 {
		return 1
	}
	return sim.Time(ns)
}

// Process names an arrival process in scenario files.
type Process string

const (
	ProcessCBR     Process = "cbr"
	ProcessPoisson Process = "poisson"
	ProcessGamma   Process = "gamma"
)

// IsValidProcess reports whether p names a known process. Empty selects CBR.
func IsValidProcess(p string) bool {
	switch Process(p) {
	case "", ProcessCBR, ProcessPoisson, ProcessGamma:
		return true
	}
	return false
}

// NewSampler builds the sampler for a source sending size-byte packets at
// rate bits per second. cv is used by the Gamma process only.
func NewSampler(p Process, rate float64, size int, cv float64) (Sampler, error) {
	if rate <= 0 || size <= 0 {
		return nil, fmt.Errorf("traffic: rate %v and size %d must be positive", rate, size)
	}
	mean := float64(size) * 8 / rate * float64(sim.Second)
	switch p {
	case "", ProcessCBR:
		return &Constant{interval: atLeastOne(mean)}, nil
	case ProcessPoisson:
		return &Poisson{mean: mean}, nil
	case ProcessGamma:
		if cv <= 0 {
			cv = 1
		}
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to Poisson", shape, cv)
			return &Poisson{mean: mean}, nil
		}
		return &Gamma{shape: shape, scale: mean * cv * cv}, nil
	}
	return nil, fmt.Errorf("unknown arrival process %q; valid: cbr, poisson, gamma", p)
}
