package sim

import (
	"math"
	"testing"
)

// === SimulationKey Tests ===

func TestSimulationKey_Creation(t *testing.T) {
	tests := []struct {
		name string
		seed int64
	}{
		{"positive seed", 42},
		{"zero seed", 0},
		{"negative seed", -1},
		{"max int64", math.MaxInt64},
		{"min int64", math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewSimulationKey(tt.seed)
			if int64(key) != tt.seed {
				t.Errorf("NewSimulationKey(%d) = %d, want %d", tt.seed, key, tt.seed)
			}
		})
	}
}

// === PartitionedRNG Tests ===

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// Same key+name produces same sequence
	rng1 := NewPartitionedRNG(NewSimulationKey(42))
	rng2 := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 3; i++ {
		a := rng1.ForSubsystem(SubsystemPhy(7)).Float64()
		b := rng2.ForSubsystem(SubsystemPhy(7)).Float64()
		if a != b {
			t.Errorf("Value %d: got %v and %v, want identical", i, a, b)
		}
	}
}

func TestPartitionedRNG_SubsystemIsolation(t *testing.T) {
	// Drawing from subsystem A doesn't affect subsystem B
	rngA := NewPartitionedRNG(NewSimulationKey(42))
	rngB := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 100; i++ {
		rngA.ForSubsystem(SubsystemRach(1)).Float64()
	}

	got := rngA.ForSubsystem(SubsystemPhy(1)).Float64()
	want := rngB.ForSubsystem(SubsystemPhy(1)).Float64()
	if got != want {
		t.Errorf("phy stream perturbed by rach draws: got %v, want %v", got, want)
	}
}

func TestPartitionedRNG_CachesInstances(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(1))
	if rng.ForSubsystem(SubsystemChannel) != rng.ForSubsystem(SubsystemChannel) {
		t.Error("ForSubsystem returned different instances for the same name")
	}
}

func TestPartitionedRNG_TrafficUsesMasterSeed(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(99))
	direct := NewPartitionedRNG(NewSimulationKey(99)).ForSubsystem(SubsystemTraffic)
	if rng.ForSubsystem(SubsystemTraffic).Int63() != direct.Int63() {
		t.Error("traffic subsystem must use the master seed directly")
	}
}

func TestPartitionedRNG_StreamSourceRange(t *testing.T) {
	// GIVEN an MRG32k3a-backed partition
	rng := NewPartitionedRNGWith(NewSimulationKey(3), GeneratorMRG32k3a)
	src := rng.Source(SubsystemPhy(2))

	// WHEN many values are drawn
	for i := 0; i < 1000; i++ {
		f := src.Float64()
		n := src.Intn(16)
		// THEN they stay in range
		if f < 0 || f >= 1 {
			t.Fatalf("Float64 out of range: %v", f)
		}
		if n < 0 || n >= 16 {
			t.Fatalf("Intn out of range: %d", n)
		}
	}
	if rng.Source(SubsystemPhy(2)) != src {
		t.Error("Source must cache stream per subsystem")
	}
}

func TestIsValidGenerator(t *testing.T) {
	for _, g := range []string{"", "math", "mrg32k3a"} {
		if !IsValidGenerator(g) {
			t.Errorf("IsValidGenerator(%q) = false, want true", g)
		}
	}
	if IsValidGenerator("xorshift") {
		t.Error("IsValidGenerator(xorshift) = true, want false")
	}
}
