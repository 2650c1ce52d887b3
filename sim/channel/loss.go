package channel

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/umts-sim/umts-sim/sim"
)

// LogDistance is a log-distance path-loss model anchored on free-space loss at
// a reference distance, with optional log-normal shadowing.
type LogDistance struct {
	Frequency   float64 // Hz
	Exponent    float64
	RefDistance float64 // m
	MinDistance float64 // m, distances below are clamped
	ShadowSigma float64 // dB; 0 disables shadowing

	rng sim.RandSource
}

// DefaultLogDistance returns an urban macro-cell model at 2.1 GHz.
func DefaultLogDistance() *LogDistance {
	return &LogDistance{
		Frequency:   2.1e9,
		Exponent:    3.5,
		RefDistance: 1,
		MinDistance: 1,
	}
}

// WithShadowing enables shadowing drawn from rng.
func (m *LogDistance) WithShadowing(sigma float64, rng sim.RandSource) *LogDistance {
	if sigma > 0 && rng == nil {
		panic("LogDistance: shadowing needs a random source")
	}
	m.ShadowSigma = sigma
	m.rng = rng
	return m
}

// Wavelength returns c/f in metres.
func (m *LogDistance) Wavelength() float64 {
	return SpeedOfLight / m.Frequency
}

// Loss implements LossModel.
func (m *LogDistance) Loss(a, b r3.Vec) float64 {
	d := math.Max(r3.Norm(r3.Sub(a, b)), m.MinDistance)
	ref := 20 * math.Log10(4*math.Pi*m.RefDistance/m.Wavelength())
	loss := ref
	if d > m.RefDistance {
		loss += 10 * m.Exponent * math.Log10(d/m.RefDistance)
	}
	if m.ShadowSigma > 0 {
		loss += m.ShadowSigma * m.rng.NormFloat64()
	}
	if loss < 0 {
		loss = 0
	}
	return loss
}
