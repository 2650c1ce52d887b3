package codetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/umts-sim/umts-sim/sim"
)

func TestNew_BuildsSiblingChains(t *testing.T) {
	tree := New(8)

	assert.Equal(t, 8, tree.MaxSF())
	assert.Len(t, tree.FreeBitmap(8), 8)
	assert.Len(t, tree.FreeBitmap(4), 4)
	assert.Nil(t, tree.FreeBitmap(3))
	assert.Equal(t, 3, tree.At(Code{SF: 8, Index: 7}).Depth)
	assert.Panics(t, func() { New(6) })
}

func TestAllocate_BlocksAncestorsAndDescendants(t *testing.T) {
	// GIVEN a tree where UE 1 holds an SF4 code
	tree := New(16)
	require.True(t, tree.Allocate(1, 4))
	assert.Equal(t, []Code{{SF: 4, Index: 0}}, tree.Owned(1))

	// THEN the SF2 parent and the SF8 children under it are not usable
	assert.False(t, tree.FreeBitmap(2)[0])
	assert.True(t, tree.FreeBitmap(2)[1])
	bm8 := tree.FreeBitmap(8)
	assert.False(t, bm8[0])
	assert.False(t, bm8[1])
	assert.True(t, bm8[2])

	// WHEN another owner asks for SF8 it lands outside the held subtree
	require.True(t, tree.Allocate(2, 8))
	assert.Equal(t, []Code{{SF: 8, Index: 2}}, tree.Owned(2))
	assert.True(t, tree.Orthogonal())
}

func TestAllocate_FailsWhenFactorExhausted(t *testing.T) {
	// GIVEN a tree of SF4 with both SF2 codes held
	tree := New(4)
	require.True(t, tree.Allocate(1, 2))
	require.True(t, tree.Allocate(2, 2))

	// THEN no code of any factor remains
	assert.False(t, tree.Allocate(3, 4))
	assert.False(t, tree.Allocate(3, 2))
	assert.False(t, tree.Allocate(3, 1))
	assert.Equal(t, 2, tree.Held())
	assert.InDelta(t, 0.0, tree.Capacity(), 1e-12)
}

func TestAllocate_RejectsInvalidFactor(t *testing.T) {
	tree := New(8)
	assert.False(t, tree.Allocate(1, 3))
	assert.False(t, tree.Allocate(1, 16))
	assert.False(t, tree.Allocate(1, 0))
}

func TestFree_NeverAllocatedIsNoop(t *testing.T) {
	tree := New(8)
	require.True(t, tree.Allocate(1, 8))

	assert.False(t, tree.Free(2, 8), "other owner")
	assert.False(t, tree.Free(1, 4), "wrong factor")
	assert.Equal(t, 1, tree.Held())

	assert.True(t, tree.Free(1, 8))
	assert.False(t, tree.Free(1, 8), "double free")
	assert.Equal(t, 0, tree.Held())
}

func TestFreeAll_ReleasesMultiCode(t *testing.T) {
	tree := New(8)
	require.True(t, tree.Allocate(5, 4))
	require.True(t, tree.Allocate(5, 4))
	require.True(t, tree.Allocate(6, 8))

	assert.Equal(t, 2, tree.FreeAll(5))
	assert.Empty(t, tree.Owned(5))
	assert.Equal(t, 1, tree.Held())
	// SF4 index 2 stays blocked by the SF8 code under it
	assert.Equal(t, 3, tree.Available(4))
	assert.Equal(t, []Code{{SF: 8, Index: 4}}, tree.Owned(6))
}

// TestContention_LastCodeAtFactor covers two terminals racing for the last free SF.
func TestContention_LastCodeAtFactor(t *testing.T) {
	// GIVEN an SF8 tree with all but one SF8 code held
	tree := New(8)
	for i := 0; i < 7; i++ {
		require.True(t, tree.Allocate(sim.NodeID(100+i), 8))
	}
	require.Equal(t, 1, tree.Available(8))

	// WHEN two terminals ask for it
	first := tree.Allocate(1, 8)
	second := tree.Allocate(2, 8)

	// THEN exactly one succeeds and capacity is never exceeded
	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 8, tree.Held())
	assert.Equal(t, 0, tree.Available(8))
}

func TestPackBitmap_RoundTrip(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, false, true, true}
	packed := PackBitmap(bits)
	assert.Equal(t, []byte{0xb1, 0x80}, packed)
	assert.Equal(t, bits, UnpackBitmap(packed, len(bits)))
}

// TestTree_OrthogonalUnderRandomOps checks that no sequence of allocate/free
// ever leaves a held code under another held code.
func TestTree_OrthogonalUnderRandomOps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree := New(32)
		factors := []int{1, 2, 4, 8, 16, 32}
		held := map[sim.NodeID][]int{}

		steps := rapid.IntRange(1, 80).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			owner := sim.NodeID(rapid.IntRange(1, 6).Draw(t, "owner"))
			sf := factors[rapid.IntRange(0, len(factors)-1).Draw(t, "sf")]
			if rapid.Bool().Draw(t, "alloc") {
				before := tree.Capacity()
				if tree.Allocate(owner, sf) {
					held[owner] = append(held[owner], sf)
					if diff := before - tree.Capacity(); diff < 1/float64(sf)-1e-12 || diff > 1/float64(sf)+1e-12 {
						t.Fatalf("capacity moved by %v, want %v", diff, 1/float64(sf))
					}
				} else if tree.Available(sf) != 0 {
					t.Fatalf("allocate SF%d failed with %d codes available", sf, tree.Available(sf))
				}
			} else {
				had := false
				for j, h := range held[owner] {
					if h == sf {
						held[owner] = append(held[owner][:j], held[owner][j+1:]...)
						had = true
						break
					}
				}
				if got := tree.Free(owner, sf); got != had {
					t.Fatalf("Free(%d, %d) = %v, want %v", owner, sf, got, had)
				}
			}
			if !tree.Orthogonal() {
				t.Fatalf("orthogonality violated after step %d", i)
			}
			if tree.Capacity() < -1e-12 {
				t.Fatalf("capacity negative: %v", tree.Capacity())
			}
		}
	})
}

func TestReserve_SpecificCode(t *testing.T) {
	// GIVEN a tree where C(4,1) is held
	tree := New(16)
	require.True(t, tree.Reserve(1, Code{SF: 4, Index: 1}))

	// WHEN the same code, one of its children and an unrelated code are reserved
	dup := tree.Reserve(2, Code{SF: 4, Index: 1})
	child := tree.Reserve(2, Code{SF: 8, Index: 3})
	other := tree.Reserve(2, Code{SF: 8, Index: 0})

	// THEN only the orthogonal one succeeds
	assert.False(t, dup)
	assert.False(t, child)
	assert.True(t, other)
	assert.Equal(t, []Code{{SF: 4, Index: 1}}, tree.Owned(1))
	assert.Equal(t, 2, tree.Held())
	assert.False(t, tree.Reserve(1, Code{SF: 3, Index: 0}))
}
