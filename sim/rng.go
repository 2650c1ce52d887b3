package sim

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/iti/rngstream"
)

// RandSource is the random-number capability consumed by the protocol layers.
// *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
	Intn(n int) int
	NormFloat64() float64
}

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey and identical scenario
// MUST produce bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemTraffic is the RNG subsystem for application traffic generation.
	// Uses master seed directly.
	SubsystemTraffic = "traffic"

	// SubsystemChannel is the RNG subsystem for shadowing draws in the loss model.
	SubsystemChannel = "channel"
)

// SubsystemPhy returns the subsystem name for the physical layer of node id.
func SubsystemPhy(id NodeID) string {
	return fmt.Sprintf("phy_%d", id)
}

// SubsystemRach returns the subsystem name for the random-access procedure of node id.
func SubsystemRach(id NodeID) string {
	return fmt.Sprintf("rach_%d", id)
}

// SubsystemRrc returns the subsystem name for the RRC retry timers of node id.
func SubsystemRrc(id NodeID) string {
	return fmt.Sprintf("rrc_%d", id)
}

// Generator selects the pseudo-random generator family backing a PartitionedRNG.
type Generator string

const (
	// GeneratorMath uses math/rand sources seeded per subsystem (default).
	GeneratorMath Generator = "math"
	// GeneratorMRG32k3a uses L'Ecuyer MRG32k3a streams from iti/rngstream.
	GeneratorMRG32k3a Generator = "mrg32k3a"
)

// IsValidGenerator reports whether g names a known generator. Empty selects the default.
func IsValidGenerator(g string) bool {
	switch Generator(g) {
	case "", GeneratorMath, GeneratorMRG32k3a:
		return true
	}
	return false
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemTraffic: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// With GeneratorMRG32k3a each subsystem gets its own named rngstream stream;
// streams are created in first-use order, which is deterministic for a given scenario.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	generator  Generator
	subsystems map[string]*rand.Rand
	streams    map[string]*streamSource
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey using math/rand sources.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return NewPartitionedRNGWith(key, GeneratorMath)
}

// NewPartitionedRNGWith creates a PartitionedRNG backed by the named generator family.
func NewPartitionedRNGWith(key SimulationKey, gen Generator) *PartitionedRNG {
	if gen == "" {
		gen = GeneratorMath
	}
	return &PartitionedRNG{
		key:        key,
		generator:  gen,
		subsystems: make(map[string]*rand.Rand),
		streams:    make(map[string]*streamSource),
	}
}

// ForSubsystem returns a deterministically-seeded math/rand generator for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	var derivedSeed int64
	if name == SubsystemTraffic {
		derivedSeed = int64(p.key)
	} else {
		derivedSeed = int64(p.key) ^ fnv1a64(name)
	}

	rng := rand.New(rand.NewSource(derivedSeed))
	p.subsystems[name] = rng
	return rng
}

// Source returns the RandSource for the named subsystem, honouring the configured generator.
func (p *PartitionedRNG) Source(name string) RandSource {
	if p.generator != GeneratorMRG32k3a {
		return p.ForSubsystem(name)
	}
	if s, ok := p.streams[name]; ok {
		return s
	}
	s := &streamSource{stream: rngstream.New(fmt.Sprintf("%d/%s", p.key, name))}
	p.streams[name] = s
	return s
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// Generator returns the generator family in use.
func (p *PartitionedRNG) Generator() Generator {
	return p.generator
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// streamSource adapts an MRG32k3a stream to RandSource.
type streamSource struct {
	stream *rngstream.RngStream
	spare  float64
	hasSp  bool
}

func (s *streamSource) Float64() float64 {
	return s.stream.RandU01()
}

func (s *streamSource) Intn(n int) int {
	if n <= 0 {
		panic("streamSource.Intn: n must be positive")
	}
	v := int(s.stream.RandU01() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}

// NormFloat64 draws a standard normal deviate with the Marsaglia polar method.
func (s *streamSource) NormFloat64() float64 {
	if s.hasSp {
		s.hasSp = false
		return s.spare
	}
	for {
		u := 2*s.stream.RandU01() - 1
		v := 2*s.stream.RandU01() - 1
		q := u*u + v*v
		if q > 0 && q < 1 {
			m := math.Sqrt(-2 * math.Log(q) / q)
			s.spare = v * m
			s.hasSp = true
			return u * m
		}
	}
}
