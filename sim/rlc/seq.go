package rlc

// Sequence arithmetic on a modular space of size mod (a power of two).

func seqAdd(a uint16, n int, mod uint16) uint16 {
	return uint16((int(a) + n) & int(mod-1))
}

// seqDiff returns b-a in [0, mod).
func seqDiff(a, b uint16, mod uint16) int {
	return int((b - a) & (mod - 1))
}

// seqInWindow reports whether sn lies in [base, base+w).
func seqInWindow(sn, base uint16, w int, mod uint16) bool {
	return seqDiff(base, sn, mod) < w
}

// firstOf rebuilds the full SN of a fragment group's first fragment from its
// low 8 bits, given any member sn of the group.
func firstOf(sn uint16, low uint8, mod uint16) uint16 {
	back := int(uint8(sn) - low)
	return seqAdd(sn, -back, mod)
}

// fragment splits sdu into pieces of at most size bytes. An empty SDU yields one empty fragment.
func fragment(sdu []byte, size int) [][]byte {
	if len(sdu) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(sdu) > 0 {
		n := size
		if n > len(sdu) {
			n = len(sdu)
		}
		out = append(out, sdu[:n:n])
		sdu = sdu[n:]
	}
	return out
}
