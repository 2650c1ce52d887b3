// Package rrc implements radio resource control for base stations and
// terminals: flow admission, rate and spreading-factor computation, code
// allocation, paging and release signalling.
//
// Acknowledged-mode flows run over a dedicated channel and hold codes from the
// station's code tree. Unacknowledged-mode flows ride the common channels and
// hold no codes. All signalling travels in transparent mode.
package rrc

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/packet"
	"github.com/umts-sim/umts-sim/sim/rlc"
)

// ErrUnknownAppClass is returned for an application class outside the closed set.
var ErrUnknownAppClass = errors.New("rrc: unknown application class")

// AppClass is the application traffic class a flow is admitted for.
type AppClass uint8

const (
	AppVoice AppClass = iota
	AppVideo
	AppWeb
	AppFile
	AppBroadcast
	AppMulticast
)

var appNames = [...]string{"voice", "video", "web", "file", "broadcast", "multicast"}

func (a AppClass) String() string {
	if int(a) < len(appNames) {
		return appNames[a]
	}
	return fmt.Sprintf("AppClass(%d)", uint8(a))
}

// ParseAppClass maps a scenario name to an AppClass.
func ParseAppClass(s string) (AppClass, error) {
	for i, n := range appNames {
		if strings.EqualFold(s, n) {
			return AppClass(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAppClass, s)
}

// Coding is the channel coding scheme.
type Coding uint8

const (
	CodingConvHalf Coding = iota
	CodingConvThird
	CodingTurboThird
)

// Rate returns the code rate (information bits per coded bit).
func (c Coding) Rate() float64 {
	if c == CodingConvHalf {
		return 0.5
	}
	return 1.0 / 3
}

func (c Coding) String() string {
	switch c {
	case CodingConvHalf:
		return "conv-1/2"
	case CodingConvThird:
		return "conv-1/3"
	case CodingTurboThird:
		return "turbo-1/3"
	}
	return fmt.Sprintf("Coding(%d)", uint8(c))
}

// Admission is the treatment chosen for an application class.
type Admission struct {
	Mode   rlc.Mode
	Coding Coding
	Class  packet.TrafficClass
}

// Dedicated reports whether flows of this treatment need a dedicated channel and codes.
func (a Admission) Dedicated() bool { return a.Mode == rlc.ModeAM }

// Classify returns the coding and ARQ treatment of an application class.
func Classify(app AppClass) (Admission, error) {
	switch app {
	case AppVoice:
		return Admission{Mode: rlc.ModeUMNonFrag, Coding: CodingConvThird, Class: packet.Conversational}, nil
	case AppVideo:
		return Admission{Mode: rlc.ModeUMFrag, Coding: CodingTurboThird, Class: packet.Streaming}, nil
	case AppWeb:
		return Admission{Mode: rlc.ModeAM, Coding: CodingTurboThird, Class: packet.Interactive}, nil
	case AppFile:
		return Admission{Mode: rlc.ModeAM, Coding: CodingTurboThird, Class: packet.Background}, nil
	case AppBroadcast:
		return Admission{Mode: rlc.ModeBroadcast, Coding: CodingConvHalf, Class: packet.Streaming}, nil
	case AppMulticast:
		return Admission{Mode: rlc.ModeMulticast, Coding: CodingConvHalf, Class: packet.Streaming}, nil
	}
	return Admission{}, fmt.Errorf("%w: %d", ErrUnknownAppClass, uint8(app))
}

// Config groups the resource-control constants.
type Config struct {
	ChipRate       float64 // chips per second
	ModulationBits int     // bits per symbol
	MinSF, MaxSF   int     // legal dedicated spreading factors
	MaxCodes       int     // codes a terminal may hold at MinSF
	BitmapSF       int     // factor reported in the resource broadcast

	RetryMin, RetryMax sim.Time // randomized delay before a rejected request is retried
	MaxAttempts        int      // connection requests or pagings before giving up
	SetupTimeout       sim.Time // unanswered request or paging is repeated after this
}

// DefaultConfig returns the constants used unless a scenario overrides them.
func DefaultConfig() Config {
	return Config{
		ChipRate:       3.84e6,
		ModulationBits: 2,
		MinSF:          4,
		MaxSF:          256,
		MaxCodes:       3,
		BitmapSF:       16,
		RetryMin:       20 * sim.Millisecond,
		RetryMax:       100 * sim.Millisecond,
		MaxAttempts:    5,
		SetupTimeout:   400 * sim.Millisecond,
	}
}

// Validate checks the constants for consistency.
func (c Config) Validate() error {
	pow2 := func(v int) bool { return v >= 1 && v&(v-1) == 0 }
	switch {
	case c.ChipRate <= 0 || c.ModulationBits <= 0:
		return fmt.Errorf("rrc: chip rate and modulation must be positive")
	case !pow2(c.MinSF) || !pow2(c.MaxSF) || c.MinSF > c.MaxSF:
		return fmt.Errorf("rrc: spreading factors [%d,%d] invalid", c.MinSF, c.MaxSF)
	case !pow2(c.BitmapSF) || c.BitmapSF > c.MaxSF:
		return fmt.Errorf("rrc: bitmap factor %d invalid", c.BitmapSF)
	case c.MaxCodes <= 0:
		return fmt.Errorf("rrc: max codes must be positive")
	case c.RetryMin < sim.Microsecond || c.RetryMax < c.RetryMin:
		return fmt.Errorf("rrc: retry window [%v,%v] invalid", c.RetryMin, c.RetryMax)
	case c.MaxAttempts <= 0 || c.SetupTimeout <= 0:
		return fmt.Errorf("rrc: attempts and setup timeout must be positive")
	}
	return nil
}

// CodeRate returns the channel bit rate one code of factor sf carries.
func (c Config) CodeRate(sf int) float64 {
	return c.ChipRate / float64(sf) * float64(c.ModulationBits)
}

// PhysicalRate returns the channel bit rate needed to carry userRate bits/s
// under coding.
func PhysicalRate(userRate float64, coding Coding) float64 {
	return userRate / coding.Rate()
}

// SpreadingFactor returns the largest legal factor whose single code carries
// physRate. When even MinSF is too slow it returns MinSF and false.
func (c Config) SpreadingFactor(physRate float64) (int, bool) {
	for sf := c.MaxSF; sf >= c.MinSF; sf /= 2 {
		if c.CodeRate(sf) >= physRate {
			return sf, true
		}
	}
	return c.MinSF, false
}

// Codes returns the factor and number of codes needed for physRate: one code
// when a single factor suffices, otherwise several MinSF codes up to MaxCodes.
func (c Config) Codes(physRate float64) (sf, n int, ok bool) {
	if sf, fits := c.SpreadingFactor(physRate); fits {
		return sf, 1, true
	}
	per := c.CodeRate(c.MinSF)
	n = int(math.Ceil(physRate / per))
	if n > c.MaxCodes {
		return c.MinSF, n, false
	}
	return c.MinSF, n, true
}
