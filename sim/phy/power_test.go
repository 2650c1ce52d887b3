package phy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMajorityVote_UnanimousStepsOnce(t *testing.T) {
	// GIVEN a five-sample vote
	m := NewMajorityVote(5)

	// WHEN five up commands arrive
	var out []int8
	for i := 0; i < 5; i++ {
		out = append(out, m.Add(1))
	}

	// THEN only the fifth produces a step, and the buffer restarts
	assert.Equal(t, []int8{0, 0, 0, 0, 1}, out)
	assert.Equal(t, int8(0), m.Add(1))
}

func TestMajorityVote_MixedSequenceHolds(t *testing.T) {
	m := NewMajorityVote(5)
	for _, d := range []int8{1, 1, -1, 1, 1} {
		assert.Equal(t, int8(0), m.Add(d))
	}
}

func TestMajorityVote_NetStepMatchesUnanimousRuns(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// GIVEN any command sequence
		cmds := rapid.SliceOf(rapid.SampledFrom([]int8{1, -1})).Draw(t, "cmds")
		m := NewMajorityVote(5)

		// WHEN fed through the vote
		steps := 0
		run, last := 0, int8(0)
		expected := 0
		for _, c := range cmds {
			steps += int(m.Add(c))
			// reference: count runs of five identical commands since the last step
			if c == last {
				run++
			} else {
				run, last = 1, c
			}
			if run == 5 {
				expected += int(c)
				run, last = 0, 0
			}
		}

		// THEN power moves exactly once per unanimous window
		if steps != expected {
			t.Fatalf("steps %d, want %d", steps, expected)
		}
	})
}
