// Package codetree implements the OVSF channelization code tree.
//
// The root has spreading factor 1; every level doubles the factor. A code may
// be held only while none of its ancestors or descendants is held, which keeps
// all allocated codes mutually orthogonal.
package codetree

import (
	"fmt"

	"github.com/umts-sim/umts-sim/sim"
)

// Node is one code of the tree.
type Node struct {
	SF      int // spreading factor
	Breadth int // index among the codes of the same factor, left to right
	Depth   int // log2(SF)

	owner    sim.NodeID
	assigned bool

	left, right *Node
	next        *Node // next code with the same factor
	parent      *Node
}

// Owner returns the holder of the code, if any.
func (n *Node) Owner() (sim.NodeID, bool) {
	return n.owner, n.assigned
}

// Code names a single code by factor and breadth index.
type Code struct {
	SF    int
	Index int
}

func (c Code) String() string {
	return fmt.Sprintf("C(%d,%d)", c.SF, c.Index)
}

// Tree is built once to a maximum factor; nodes are mutated in place afterwards.
type Tree struct {
	root   *Node
	maxSF  int
	levels map[int]*Node // first (leftmost) node per factor
	held   int
}

// New builds a full tree down to maxSF, which must be a power of two >= 1.
func New(maxSF int) *Tree {
	if !isPow2(maxSF) {
		panic(fmt.Sprintf("codetree.New: maxSF %d is not a power of two", maxSF))
	}
	t := &Tree{
		root:   &Node{SF: 1},
		maxSF:  maxSF,
		levels: make(map[int]*Node),
	}
	t.levels[1] = t.root

	level := []*Node{t.root}
	for sf := 2; sf <= maxSF; sf *= 2 {
		children := make([]*Node, 0, 2*len(level))
		for _, p := range level {
			p.left = &Node{SF: sf, Depth: p.Depth + 1, Breadth: 2 * p.Breadth, parent: p}
			p.right = &Node{SF: sf, Depth: p.Depth + 1, Breadth: 2*p.Breadth + 1, parent: p}
			children = append(children, p.left, p.right)
		}
		for i := 0; i+1 < len(children); i++ {
			children[i].next = children[i+1]
		}
		t.levels[sf] = children[0]
		level = children
	}
	return t
}

// MaxSF returns the finest factor the tree was built with.
func (t *Tree) MaxSF() int {
	return t.maxSF
}

// Valid reports whether sf is a factor present in the tree.
func (t *Tree) Valid(sf int) bool {
	return isPow2(sf) && sf <= t.maxSF
}

// Allocate assigns one free code of factor sf to owner.
// It returns false when no orthogonal code of that factor is left; callers
// treat that as a retriable condition.
func (t *Tree) Allocate(owner sim.NodeID, sf int) bool {
	if !t.Valid(sf) {
		return false
	}
	n := t.allocate(t.root, owner, sf)
	if n == nil {
		return false
	}
	t.held++
	return true
}

// allocate descends to the requested factor then walks the sibling chain.
func (t *Tree) allocate(n *Node, owner sim.NodeID, sf int) *Node {
	switch {
	case n == nil:
		return nil
	case n.SF < sf:
		return t.allocate(n.left, owner, sf)
	case n.assigned || n.blockedAbove() || n.busyBelow():
		return t.allocate(n.next, owner, sf)
	}
	n.owner = owner
	n.assigned = true
	return n
}

// Reserve assigns the specific code c to owner if it is usable. Rolling back
// a failed reallocation uses it to restore the exact previous codes.
func (t *Tree) Reserve(owner sim.NodeID, c Code) bool {
	n := t.At(c)
	if n == nil || !n.usable() {
		return false
	}
	n.owner = owner
	n.assigned = true
	t.held++
	return true
}

// blockedAbove reports whether an ancestor is held.
func (n *Node) blockedAbove() bool {
	for p := n.parent; p != nil; p = p.parent {
		if p.assigned {
			return true
		}
	}
	return false
}

// busyBelow reports whether any descendant is held.
func (n *Node) busyBelow() bool {
	for _, c := range []*Node{n.left, n.right} {
		if c == nil {
			continue
		}
		if c.assigned || c.busyBelow() {
			return true
		}
	}
	return false
}

// Free releases one code of factor sf held by owner. Freeing a code that was
// never allocated is a no-op returning false.
func (t *Tree) Free(owner sim.NodeID, sf int) bool {
	if !t.Valid(sf) {
		return false
	}
	for n := t.levels[sf]; n != nil; n = n.next {
		if n.assigned && n.owner == owner {
			n.assigned = false
			n.owner = 0
			t.held--
			return true
		}
	}
	return false
}

// FreeAll releases every code held by owner and returns how many were freed.
func (t *Tree) FreeAll(owner sim.NodeID) int {
	freed := 0
	t.walk(func(n *Node) {
		if n.assigned && n.owner == owner {
			n.assigned = false
			n.owner = 0
			freed++
		}
	})
	t.held -= freed
	return freed
}

// Owned lists the codes held by owner, coarsest first.
func (t *Tree) Owned(owner sim.NodeID) []Code {
	var codes []Code
	t.walk(func(n *Node) {
		if n.assigned && n.owner == owner {
			codes = append(codes, Code{SF: n.SF, Index: n.Breadth})
		}
	})
	return codes
}

// Held returns the number of codes currently allocated.
func (t *Tree) Held() int {
	return t.held
}

// At returns the node for a code, or nil if it does not exist.
func (t *Tree) At(c Code) *Node {
	if !t.Valid(c.SF) {
		return nil
	}
	for n := t.levels[c.SF]; n != nil; n = n.next {
		if n.Breadth == c.Index {
			return n
		}
	}
	return nil
}

// usable reports whether the code at n could be allocated right now.
func (n *Node) usable() bool {
	return !n.assigned && !n.blockedAbove() && !n.busyBelow()
}

// FreeBitmap returns one flag per code of factor sf, true where the code can be allocated.
func (t *Tree) FreeBitmap(sf int) []bool {
	if !t.Valid(sf) {
		return nil
	}
	bits := make([]bool, 0, sf)
	for n := t.levels[sf]; n != nil; n = n.next {
		bits = append(bits, n.usable())
	}
	return bits
}

// Available counts the codes of factor sf that can currently be allocated.
func (t *Tree) Available(sf int) int {
	count := 0
	for _, ok := range t.FreeBitmap(sf) {
		if ok {
			count++
		}
	}
	return count
}

// Capacity is the fraction of the tree still free, in units of the root code.
func (t *Tree) Capacity() float64 {
	used := 0.0
	t.walk(func(n *Node) {
		if n.assigned {
			used += 1 / float64(n.SF)
		}
	})
	return 1 - used
}

// Orthogonal verifies that no held code has a held ancestor.
func (t *Tree) Orthogonal() bool {
	ok := true
	t.walk(func(n *Node) {
		if n.assigned && n.blockedAbove() {
			ok = false
		}
	})
	return ok
}

// walk visits every node, coarsest level first.
func (t *Tree) walk(fn func(*Node)) {
	for sf := 1; sf <= t.maxSF; sf *= 2 {
		for n := t.levels[sf]; n != nil; n = n.next {
			fn(n)
		}
	}
}

func isPow2(v int) bool {
	return v >= 1 && v&(v-1) == 0
}

// PackBitmap packs flags MSB-first into bytes, as carried by the broadcast control frame.
func PackBitmap(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// UnpackBitmap reverses PackBitmap for n flags.
func UnpackBitmap(data []byte, n int) []bool {
	bits := make([]bool, n)
	for i := 0; i < n && i/8 < len(data); i++ {
		bits[i] = data[i/8]&(0x80>>(i%8)) != 0
	}
	return bits
}
