package mobility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/umts-sim/umts-sim/sim"
)

func TestConstantVelocity_MovesLinearly(t *testing.T) {
	// GIVEN a node leaving the origin at 10 m/s along x
	m := ConstantVelocity{Velocity: r3.Vec{X: 10}}

	// WHEN sampled after 2.5 s
	p := m.Position(sim.Seconds(2.5))

	// THEN it has covered 25 m
	assert.InDelta(t, 25, p.X, 1e-9)
	assert.Zero(t, p.Y)
}

func TestDistance_BetweenModels(t *testing.T) {
	a := Static{At: r3.Vec{X: 0, Y: 0}}
	b := Static{At: r3.Vec{X: 3, Y: 4}}
	assert.InDelta(t, 5, Distance(a, b, 0), 1e-12)
}

func TestNew_RejectsUnknownKind(t *testing.T) {
	m, err := New("", r3.Vec{X: 1}, r3.Vec{})
	require.NoError(t, err)
	assert.Equal(t, Static{At: r3.Vec{X: 1}}, m)

	_, err = New("teleport", r3.Vec{}, r3.Vec{})
	assert.Error(t, err)
}
