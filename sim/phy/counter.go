package phy

import (
	"math"

	"github.com/umts-sim/umts-sim/sim"
)

// ErrorCounter injects block errors at a given rate. For BLER b it corrupts
// exactly one block in every window of round(1/b) blocks, at a random position
// within the window.
type ErrorCounter struct {
	rng    sim.RandSource
	bler   float64
	window int // 0: never corrupt
	count  int
	pos    int
}

// NewErrorCounter creates a counter that corrupts nothing until SetBLER is called.
func NewErrorCounter(rng sim.RandSource) *ErrorCounter {
	if rng == nil {
		panic("NewErrorCounter: rng must not be nil")
	}
	return &ErrorCounter{rng: rng}
}

// SetBLER updates the error rate. A new window starts only when its length changes.
func (e *ErrorCounter) SetBLER(b float64) {
	e.bler = b
	var w int
	switch {
	case b <= 0 || math.IsNaN(b):
		w = 0
	case b >= 1:
		w = 1
	default:
		w = int(math.Round(1 / b))
		if w < 1 {
			w = 1
		}
	}
	if w == e.window {
		return
	}
	e.window = w
	e.count = 0
	if w > 0 {
		e.pos = e.rng.Intn(w)
	}
}

// BLER returns the current rate.
func (e *ErrorCounter) BLER() float64 { return e.bler }

// Window returns the current window length (0 when errors are disabled).
func (e *ErrorCounter) Window() int { return e.window }

// Corrupt consumes one block and reports whether it is in error.
func (e *ErrorCounter) Corrupt() bool {
	if e.window == 0 {
		return false
	}
	hit := e.count == e.pos
	e.count++
	if e.count == e.window {
		e.count = 0
		e.pos = e.rng.Intn(e.window)
	}
	return hit
}
