package phy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/umts-sim/umts-sim/sim"
)

// ErrBadBLERTable is returned for a table that is not a monotone SIR → BLER mapping.
var ErrBadBLERTable = errors.New("invalid BLER table")

// BLERTable maps an effective SIR (dB) to a block-error probability by
// piecewise-linear interpolation. Outside the breakpoints the end values apply.
// The table is immutable once built.
type BLERTable struct {
	sir, bler []float64
	fit       interp.PiecewiseLinear
}

// NewBLERTable validates and fits a table. SIR breakpoints must be strictly
// increasing and probabilities in [0,1] and non-increasing.
func NewBLERTable(sir, bler []float64) (*BLERTable, error) {
	if len(sir) < 2 || len(sir) != len(bler) {
		return nil, fmt.Errorf("%w: need at least two matching breakpoints, got %d/%d", ErrBadBLERTable, len(sir), len(bler))
	}
	for i := range sir {
		if bler[i] < 0 || bler[i] > 1 || math.IsNaN(bler[i]) {
			return nil, fmt.Errorf("%w: probability %v at SIR %v outside [0,1]", ErrBadBLERTable, bler[i], sir[i])
		}
		if i == 0 {
			continue
		}
		if sir[i] <= sir[i-1] {
			return nil, fmt.Errorf("%w: SIR breakpoints not strictly increasing at %v", ErrBadBLERTable, sir[i])
		}
		if bler[i] > bler[i-1] {
			return nil, fmt.Errorf("%w: BLER increases from %v to %v", ErrBadBLERTable, bler[i-1], bler[i])
		}
	}
	t := &BLERTable{
		sir:  append([]float64(nil), sir...),
		bler: append([]float64(nil), bler...),
	}
	if err := t.fit.Fit(t.sir, t.bler); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBLERTable, err)
	}
	return t, nil
}

// DefaultBLERTable returns a convolutionally-coded curve used when no table is configured.
func DefaultBLERTable() *BLERTable {
	t, err := NewBLERTable(
		[]float64{-4, -2, 0, 2, 4, 6, 8},
		[]float64{1, 0.5, 0.2, 0.05, 0.01, 0.001, 0},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the block-error probability at sir dB.
func (t *BLERTable) Lookup(sir float64) float64 {
	switch {
	case math.IsNaN(sir) || math.IsInf(sir, -1) || sir <= t.sir[0]:
		return t.bler[0]
	case sir >= t.sir[len(t.sir)-1]:
		return t.bler[len(t.bler)-1]
	}
	return t.fit.Predict(sir)
}

// SIR returns the effective signal-to-interference ratio in dB of a signal
// received at signal dBm against interference mW, including the processing gain of sf.
func SIR(signal, interference float64, sf int) float64 {
	if interference <= 0 {
		return math.Inf(1)
	}
	s := sim.DBmToMilliwatt(signal)
	if s <= 0 {
		return math.Inf(-1)
	}
	return 10*math.Log10(s/interference) + 10*math.Log10(float64(sf))
}
