package phy

// MajorityVote damps power-control oscillation: a step is applied only when
// the last Window commands all agree. The buffer restarts after every step.
type MajorityVote struct {
	window int
	votes  []int8
}

// NewMajorityVote creates a vote buffer of n commands.
func NewMajorityVote(n int) *MajorityVote {
	if n <= 0 {
		panic("NewMajorityVote: window must be positive")
	}
	return &MajorityVote{window: n, votes: make([]int8, 0, n)}
}

// Add records a command (+1 up, -1 down) and returns the direction to step,
// or 0 when the buffer is not yet unanimous.
func (m *MajorityVote) Add(dir int8) int8 {
	if dir == 0 {
		return 0
	}
	if len(m.votes) == m.window {
		copy(m.votes, m.votes[1:])
		m.votes = m.votes[:m.window-1]
	}
	m.votes = append(m.votes, dir)
	if len(m.votes) < m.window {
		return 0
	}
	for _, v := range m.votes {
		if v != dir {
			return 0
		}
	}
	m.votes = m.votes[:0]
	return dir
}

// Reset drops buffered commands.
func (m *MajorityVote) Reset() {
	m.votes = m.votes[:0]
}

// tpc returns the command for a measured SIR against target.
func tpc(sir, target float64) int8 {
	if sir < target {
		return 1
	}
	return -1
}
