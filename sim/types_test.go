package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddrOf_RoundTripsNodeID(t *testing.T) {
	a := AddrOf(258)
	assert.Equal(t, NodeID(258), a.Node())
	assert.Equal(t, "10.0.1.2", a.String())
}

func TestTime_Conversions(t *testing.T) {
	assert.Equal(t, 10*Millisecond, Seconds(0.01))
	assert.InDelta(t, 0.000666667, (666667 * Nanosecond).Seconds(), 1e-9)
	assert.Equal(t, int64(1500), (1500 * Microsecond).Micros())
}

func TestPowerConversions(t *testing.T) {
	assert.InDelta(t, 1.0, DBmToMilliwatt(0), 1e-12)
	assert.InDelta(t, 30.0, MilliwattToDBm(1000), 1e-9)
	assert.True(t, math.IsInf(MilliwattToDBm(0), -1))
}
