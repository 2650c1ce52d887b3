package phy

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBLERTable_RejectsNonMonotone(t *testing.T) {
	tests := []struct {
		name      string
		sir, bler []float64
	}{
		{"too short", []float64{0}, []float64{1}},
		{"length mismatch", []float64{0, 1}, []float64{1}},
		{"sir not increasing", []float64{0, 0}, []float64{1, 0.5}},
		{"bler increasing", []float64{0, 1}, []float64{0.1, 0.2}},
		{"bler above one", []float64{0, 1}, []float64{1.5, 0.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBLERTable(tt.sir, tt.bler)
			assert.True(t, errors.Is(err, ErrBadBLERTable), "got %v", err)
		})
	}
}

func TestBLERTable_LookupInterpolatesAndClamps(t *testing.T) {
	// GIVEN a two-segment table
	tbl, err := NewBLERTable([]float64{0, 2, 4}, []float64{1, 0.5, 0})
	require.NoError(t, err)

	// WHEN looked up inside and outside the breakpoints
	// THEN values are linear inside and flat outside
	assert.InDelta(t, 0.75, tbl.Lookup(1), 1e-12)
	assert.InDelta(t, 0.25, tbl.Lookup(3), 1e-12)
	assert.Equal(t, 1.0, tbl.Lookup(-10))
	assert.Equal(t, 1.0, tbl.Lookup(math.Inf(-1)))
	assert.Equal(t, 0.0, tbl.Lookup(50))
}

func TestSIR_IncludesProcessingGain(t *testing.T) {
	// GIVEN a signal equal to the interference
	// WHEN spread with factor 100
	sir := SIR(0, 1, 100)
	// THEN the SIR is the 20 dB processing gain
	assert.InDelta(t, 20, sir, 1e-9)
}

func TestErrorCounter_OneErrorPerWindow(t *testing.T) {
	// GIVEN a 10% block-error rate
	e := NewErrorCounter(rand.New(rand.NewSource(7)))
	e.SetBLER(0.1)
	require.Equal(t, 10, e.Window())

	// WHEN 100 blocks pass
	// THEN every window of 10 holds exactly one error
	for w := 0; w < 10; w++ {
		errs := 0
		for i := 0; i < 10; i++ {
			if e.Corrupt() {
				errs++
			}
		}
		assert.Equal(t, 1, errs, "window %d", w)
	}
}

func TestErrorCounter_Extremes(t *testing.T) {
	e := NewErrorCounter(rand.New(rand.NewSource(1)))
	for i := 0; i < 5; i++ {
		assert.False(t, e.Corrupt(), "no rate configured")
	}
	e.SetBLER(0)
	assert.False(t, e.Corrupt())
	e.SetBLER(1)
	for i := 0; i < 5; i++ {
		assert.True(t, e.Corrupt())
	}
}
