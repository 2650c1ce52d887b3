// Package mobility provides node position models.
package mobility

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/umts-sim/umts-sim/sim"
)

// Model reports a node's position at a simulated instant.
type Model interface {
	Position(now sim.Time) r3.Vec
}

// Static never moves.
type Static struct {
	At r3.Vec
}

// Position implements Model.
func (s Static) Position(sim.Time) r3.Vec { return s.At }

// ConstantVelocity moves in a straight line from Start at Velocity (m/s), starting at time zero.
type ConstantVelocity struct {
	Start    r3.Vec
	Velocity r3.Vec
}

// Position implements Model.
func (c ConstantVelocity) Position(now sim.Time) r3.Vec {
	return r3.Add(c.Start, r3.Scale(now.Seconds(), c.Velocity))
}

// Distance returns the metres between a and b at time now.
func Distance(a, b Model, now sim.Time) float64 {
	return r3.Norm(r3.Sub(a.Position(now), b.Position(now)))
}

// Kind names a model in scenario files.
type Kind string

const (
	KindStatic           Kind = "static"
	KindConstantVelocity Kind = "constant-velocity"
)

// New builds a model from scenario parameters. velocity is ignored for static nodes.
func New(kind Kind, start, velocity r3.Vec) (Model, error) {
	switch kind {
	case "", KindStatic:
		return Static{At: start}, nil
	case KindConstantVelocity:
		return ConstantVelocity{Start: start, Velocity: velocity}, nil
	}
	return nil, fmt.Errorf("unknown mobility model %q; valid: static, constant-velocity", kind)
}
