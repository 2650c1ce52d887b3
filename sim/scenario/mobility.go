package scenario

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/umts-sim/umts-sim/sim/mobility"
)

func vec(p [3]float64) r3.Vec { return r3.Vec{X: p[0], Y: p[1], Z: p[2]} }

// Model returns the station's (static) position model.
func (s StationSpec) Model() mobility.Model { return mobility.Static{At: vec(s.Position)} }

// Model returns the terminal's mobility model. Validate has checked the kind.
func (t TerminalSpec) Model() mobility.Model {
	m, err := mobility.New(mobility.Kind(t.Mobility), vec(t.Position), vec(t.Velocity))
	if err != nil {
		panic("TerminalSpec.Model: " + err.Error())
	}
	return m
}
