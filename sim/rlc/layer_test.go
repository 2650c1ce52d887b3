package rlc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/mac"
	"github.com/umts-sim/umts-sim/sim/packet"
)

// link carries PDUs from one layer to another after a fixed delay, dropping
// those drop selects.
type link struct {
	sched engine.Scheduler
	from  sim.NodeID
	to    *Layer
	drop  func(p *packet.Packet) bool
	sent  []*packet.Packet
}

func (k *link) Send(p *packet.Packet) bool {
	k.sent = append(k.sent, p.Copy())
	if k.to == nil || (k.drop != nil && k.drop(p)) {
		return true
	}
	cp := p.Copy()
	cp.Ctrl.Phy.Src = k.from
	k.sched.Schedule(2*sim.Millisecond, func(sim.Time) {
		k.to.ReceiveFromMac(cp, mac.Header{})
	})
	return true
}

type recorder struct {
	sdus     [][]byte
	specs    []FlowSpec
	control  [][]byte
	failed   int
	resolver func(c packet.Common, peer sim.NodeID) (FlowSpec, bool)
}

func (r *recorder) ReceiveFromRlc(spec FlowSpec, sdu []byte, _ packet.Common) {
	r.sdus = append(r.sdus, sdu)
	r.specs = append(r.specs, spec)
}

func (r *recorder) ReceiveControl(_ sim.NodeID, msg []byte, _ packet.Common) {
	r.control = append(r.control, msg)
}

func (r *recorder) ResolveFlow(c packet.Common, peer sim.NodeID) (FlowSpec, bool) {
	if r.resolver == nil {
		return FlowSpec{}, false
	}
	return r.resolver(c, peer)
}

func (r *recorder) AccessFailed(pkts []*packet.Packet) { r.failed += len(pkts) }

type pair struct {
	sched    *engine.Heap
	a, b     *Layer
	ab, ba   *link
	upA, upB *recorder
}

// newPair wires station 1 and terminal 2 back to back with one flow in mode.
func newPair(t require.TestingT, mode Mode) *pair {
	h := engine.NewHeap()
	p := &pair{sched: h, upA: &recorder{}, upB: &recorder{}}
	p.ab = &link{sched: h, from: 1}
	p.ba = &link{sched: h, from: 2}
	p.a = New(1, sim.NodeB, DefaultConfig(), h, p.ab, nil)
	p.b = New(2, sim.NodeUE, DefaultConfig(), h, p.ba, nil)
	p.ab.to, p.ba.to = p.b, p.a
	p.a.Bind(p.upA)
	p.b.Bind(p.upB)
	p.upB.resolver = func(c packet.Common, peer sim.NodeID) (FlowSpec, bool) {
		return FlowSpec{Flow: c.Flow, Peer: peer, Mode: mode, Src: c.Dst, Dst: c.Src}, true
	}
	p.upA.resolver = p.upB.resolver
	require.True(t, p.a.AddFlow(FlowSpec{Flow: 7, Peer: 2, Mode: mode, Src: sim.AddrOf(1), Dst: sim.AddrOf(2)}))
	p.a.Start()
	p.b.Start()
	return p
}

func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestAM_DeliversFragmentedSDUInOrder(t *testing.T) {
	// GIVEN an AM flow over a lossless link
	p := newPair(t, ModeAM)

	// WHEN two SDUs spanning several fragments are sent
	first, second := payload(130, 1), payload(41, 99)
	require.True(t, p.a.Send(7, 2, first, 0))
	require.True(t, p.a.Send(7, 2, second, 0))
	p.sched.Run(sim.Second)

	// THEN both arrive intact and in order, and the sender window is empty
	require.Len(t, p.upB.sdus, 2)
	assert.Equal(t, first, p.upB.sdus[0])
	assert.Equal(t, second, p.upB.sdus[1])
	st, ok := p.a.Stats(Key{7, 2})
	require.True(t, ok)
	assert.Equal(t, 0, st.Outstanding)
	assert.Equal(t, 6, st.PDUsSent)
	assert.Zero(t, st.Retransmissions)
}

func TestAM_LostFragmentIsRetransmitted(t *testing.T) {
	// GIVEN an AM flow whose link loses the first transmission of SN 1
	p := newPair(t, ModeAM)
	lost := false
	p.ab.drop = func(pk *packet.Packet) bool {
		if IsControl(pk.Payload) || lost {
			return false
		}
		h, err := DecodeAMHeader(pk.Payload)
		if err == nil && h.SN == 1 {
			lost = true
			return true
		}
		return false
	}

	// WHEN a four-fragment SDU is sent
	sdu := payload(150, 3)
	require.True(t, p.a.Send(7, 2, sdu, 0))
	p.sched.Run(sim.Second)

	// THEN the receiver still gets it exactly once after a selective retransmission
	require.Len(t, p.upB.sdus, 1)
	assert.Equal(t, sdu, p.upB.sdus[0])
	st, _ := p.a.Stats(Key{7, 2})
	assert.GreaterOrEqual(t, st.Retransmissions, 1)
	assert.Equal(t, 0, st.Outstanding)

	var selective int
	for _, pk := range p.ba.sent {
		if h, err := DecodeStatusHeader(pk.Payload); err == nil && h.Type == StatusSelective {
			selective++
			assert.Equal(t, uint16(1), h.Ack)
			assert.Equal(t, uint8(1), h.Nack)
		}
	}
	assert.Equal(t, 1, selective, "one selective ack per gap")
}

func TestAM_ResetAfterRetransmissionBudget(t *testing.T) {
	// GIVEN a link that never delivers data
	p := newPair(t, ModeAM)
	p.ab.drop = func(pk *packet.Packet) bool { return !IsControl(pk.Payload) }

	// WHEN an SDU is sent and the retransmission budget runs out
	require.True(t, p.a.Send(7, 2, payload(10, 0), 0))
	p.sched.Run(2 * sim.Second)

	// THEN the sender resets once, empties its window and the SDU is lost
	st, _ := p.a.Stats(Key{7, 2})
	assert.Equal(t, 1, st.Resets)
	assert.Equal(t, 0, st.Outstanding)
	assert.Equal(t, DefaultConfig().MaxRetx, st.Retransmissions)
	assert.Empty(t, p.upB.sdus)
}

func TestAM_LostResetIsRepeatedUntilAcknowledged(t *testing.T) {
	// GIVEN a link that loses all data and the first reset status
	p := newPair(t, ModeAM)
	blackout, resetLost := true, false
	p.ab.drop = func(pk *packet.Packet) bool {
		if !IsControl(pk.Payload) {
			return blackout
		}
		h, err := DecodeStatusHeader(pk.Payload)
		if err == nil && h.Type == StatusReset && !resetLost {
			resetLost = true
			return true
		}
		return false
	}
	require.True(t, p.a.Send(7, 2, payload(10, 0), 0))
	p.sched.Run(2 * sim.Second)

	// WHEN the link recovers and a new SDU is sent
	blackout = false
	sdu := payload(12, 40)
	require.True(t, p.a.Send(7, 2, sdu, 0))
	p.sched.Run(3 * sim.Second)

	// THEN the reset was repeated once and the new SDU gets through
	var resets int
	for _, pk := range p.ab.sent {
		if h, err := DecodeStatusHeader(pk.Payload); err == nil && h.Type == StatusReset {
			resets++
		}
	}
	assert.Equal(t, 2, resets)
	require.Len(t, p.upB.sdus, 1)
	assert.Equal(t, sdu, p.upB.sdus[0])
	st, _ := p.a.Stats(Key{7, 2})
	assert.Equal(t, 1, st.Resets)
	assert.Equal(t, 0, st.Outstanding)
}

func TestAM_DeliveryUnderBoundedLoss(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := newPair(t, ModeAM)
		// any four transmissions in either direction may be lost
		budget := 4
		pattern := rapid.SliceOfN(rapid.Bool(), 0, 64).Draw(t, "drops")
		step := 0
		drop := func(*packet.Packet) bool {
			defer func() { step++ }()
			if budget == 0 || step >= len(pattern) || !pattern[step] {
				return false
			}
			budget--
			return true
		}
		p.ab.drop, p.ba.drop = drop, drop

		sizes := rapid.SliceOfN(rapid.IntRange(0, 200), 1, 6).Draw(t, "sizes")
		var want [][]byte
		for i, n := range sizes {
			sdu := payload(n, byte(i*31))
			want = append(want, sdu)
			if !p.a.Send(7, 2, sdu, 0) {
				t.Fatalf("send %d refused", i)
			}
		}
		p.sched.Run(5 * sim.Second)

		if len(p.upB.sdus) != len(want) {
			t.Fatalf("delivered %d of %d SDUs", len(p.upB.sdus), len(want))
		}
		for i := range want {
			if !bytes.Equal(want[i], p.upB.sdus[i]) {
				t.Fatalf("SDU %d corrupted", i)
			}
		}
	})
}

func TestUM_GapDiscardsOnlyAffectedSDU(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := newPair(t, ModeUMFrag)
		sizes := rapid.SliceOfN(rapid.IntRange(1, 160), 1, 5).Draw(t, "sizes")
		for i, n := range sizes {
			if !p.a.Send(7, 2, payload(n, byte(i)), 0) {
				t.Fatalf("send %d refused", i)
			}
		}
		// Capture every PDU, then replay a subset.
		p.ab.to = nil
		p.sched.Run(sim.Second)
		pdus := p.ab.sent
		keep := rapid.SliceOfN(rapid.Bool(), len(pdus), len(pdus)).Draw(t, "keep")

		var want [][]byte
		idx := 0
		for i, n := range sizes {
			frags := (n + DefaultConfig().FragmentSize - 1) / DefaultConfig().FragmentSize
			intact := true
			for j := 0; j < frags; j++ {
				intact = intact && keep[idx+j]
			}
			idx += frags
			if intact {
				want = append(want, payload(n, byte(i)))
			}
		}
		for i, pk := range pdus {
			if keep[i] {
				cp := pk.Copy()
				cp.Ctrl.Phy.Src = 1
				p.b.ReceiveFromMac(cp, mac.Header{})
			}
		}

		if len(p.upB.sdus) != len(want) {
			t.Fatalf("delivered %d SDUs, want %d", len(p.upB.sdus), len(want))
		}
		for i := range want {
			if !bytes.Equal(want[i], p.upB.sdus[i]) {
				t.Fatalf("SDU %d differs", i)
			}
		}
	})
}

func TestUM_NonFragmentingSendsWholeSDU(t *testing.T) {
	// GIVEN a non-fragmenting flow
	p := newPair(t, ModeUMNonFrag)

	// WHEN a 300-byte SDU is sent
	sdu := payload(300, 5)
	require.True(t, p.a.Send(7, 2, sdu, 0))
	p.sched.Run(sim.Second)

	// THEN one PDU carries it
	require.Len(t, p.ab.sent, 1)
	require.Len(t, p.upB.sdus, 1)
	assert.Equal(t, sdu, p.upB.sdus[0])
}

func TestLayer_AdmissionKeepsPerFlowOrder(t *testing.T) {
	// GIVEN an AM flow with a stalled link, so its window never opens
	p := newPair(t, ModeAM)
	p.ab.to = nil
	var w int
	for i := 0; i < DefaultConfig().Window; i++ {
		require.True(t, p.a.Send(7, 2, payload(10, byte(i)), 0))
		w++
	}
	require.True(t, p.a.Send(7, 2, payload(10, 0xee), 0))

	// WHEN many TTIs elapse without acknowledgements
	p.sched.Run(70 * sim.Millisecond)

	// THEN one SDU was admitted per TTI and the rest wait in order
	st, _ := p.a.Stats(Key{7, 2})
	assert.Equal(t, 7, st.SDUsSent)
	assert.Equal(t, w+1-7, p.a.Queued())
}

func TestLayer_SendRejects(t *testing.T) {
	p := newPair(t, ModeAM)
	assert.False(t, p.a.Send(9, 2, []byte{1}, 0), "unknown flow")
	assert.False(t, p.a.Send(7, 2, make([]byte, DefaultConfig().MaxSDU()+1), 0), "oversized SDU")
	assert.False(t, p.a.AddFlow(FlowSpec{Flow: 7, Peer: 2, Mode: ModeUMFrag}), "duplicate key")
	assert.False(t, p.a.AddFlow(FlowSpec{Flow: 8, Peer: 2, Mode: ModeTransparent}))
}

func TestLayer_ControlBypassesAdmission(t *testing.T) {
	p := newPair(t, ModeAM)
	require.True(t, p.a.SendControl(2, sim.AddrOf(2), []byte{0x42}))
	p.sched.Run(5 * sim.Millisecond)
	require.Len(t, p.upB.control, 1)
	assert.Equal(t, []byte{0x42}, p.upB.control[0])
}

func TestLayer_RemovePeerDropsQueuedSDUs(t *testing.T) {
	p := newPair(t, ModeAM)
	require.True(t, p.a.AddFlow(FlowSpec{Flow: 8, Peer: 2, Mode: ModeUMFrag}))
	require.True(t, p.a.Send(7, 2, []byte{1}, 0))
	require.True(t, p.a.Send(8, 2, []byte{2}, 0))

	assert.Equal(t, 2, p.a.RemovePeer(2))
	assert.Zero(t, p.a.Queued())
	assert.Empty(t, p.a.Flows())
}

func TestLayer_UnknownFlowWithoutResolverIsDropped(t *testing.T) {
	p := newPair(t, ModeAM)
	p.upB.resolver = nil
	require.True(t, p.a.Send(7, 2, []byte{1, 2, 3}, 0))
	p.sched.Run(100 * sim.Millisecond)
	assert.Empty(t, p.upB.sdus)
	assert.False(t, p.b.HasFlow(Key{7, 1}))
}

func TestLayer_AccessFailedForwarded(t *testing.T) {
	p := newPair(t, ModeAM)
	p.b.AccessFailed([]*packet.Packet{packet.New(nil, packet.Common{})})
	assert.Equal(t, 1, p.upB.failed)
}

func TestLayer_MulticastDestinationsFollowMembership(t *testing.T) {
	// GIVEN a station-side multicast flow
	p := newPair(t, ModeAM)
	key := Key{Flow: 9}
	require.True(t, p.a.AddFlow(FlowSpec{Flow: 9, Mode: ModeMulticast, Dsts: []sim.NodeID{2}}))

	// WHEN the membership changes and an SDU is sent
	require.True(t, p.a.SetDestinations(key, []sim.NodeID{2, 3}))
	require.True(t, p.a.Send(9, 0, []byte{1, 2}, 0))
	p.sched.Run(15 * sim.Millisecond)

	// THEN the PDU names every member
	require.NotEmpty(t, p.ab.sent)
	assert.Equal(t, []sim.NodeID{2, 3}, p.ab.sent[0].Ctrl.Phy.Dsts)
	assert.False(t, p.a.SetDestinations(Key{7, 2}, nil), "not a multicast entity")
}
