package channel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/engine"
	"github.com/umts-sim/umts-sim/sim/packet"
)

type fakeRadio struct {
	id    sim.NodeID
	pos   r3.Vec
	gain  float64
	got   []*packet.Packet
	bound *Dedicated
	binds int
}

func (f *fakeRadio) ID() sim.NodeID                      { return f.id }
func (f *fakeRadio) Position(sim.Time) r3.Vec            { return f.pos }
func (f *fakeRadio) AntennaGain() float64                { return f.gain }
func (f *fakeRadio) ReceiveFromChannel(p *packet.Packet) { f.got = append(f.got, p) }
func (f *fakeRadio) OnBind(d *Dedicated)                 { f.bound = d; f.binds++ }
func (f *fakeRadio) OnUnbind(*Dedicated)                 { f.bound = nil }

var flatLoss = LossFunc(func(a, b r3.Vec) float64 { return 100 })

func newShared(t *testing.T) (*engine.Heap, *Shared, *fakeRadio, *fakeRadio, *fakeRadio) {
	t.Helper()
	h := engine.NewHeap()
	station := &fakeRadio{id: 1, gain: 10}
	a := &fakeRadio{id: 2, pos: r3.Vec{X: 300}}
	b := &fakeRadio{id: 3, pos: r3.Vec{X: 600}}
	c := NewShared(h, flatLoss, station)
	require.True(t, c.AddTerminal(a))
	require.True(t, c.AddTerminal(b))
	return h, c, station, a, b
}

func TestShared_RegistrationIsIdempotent(t *testing.T) {
	// GIVEN a shared channel with two terminals
	_, c, _, a, _ := newShared(t)

	// WHEN a terminal is added twice and removed twice
	assert.False(t, c.AddTerminal(a))
	assert.True(t, c.RemoveTerminal(a.id))
	assert.False(t, c.RemoveTerminal(a.id))

	// THEN only the other terminal remains
	assert.Equal(t, []sim.NodeID{3}, c.Terminals())
}

func TestShared_FanOutByKind(t *testing.T) {
	// GIVEN two registered terminals
	h, c, _, a, b := newShared(t)

	// WHEN a unicast, a multicast and a broadcast are sent
	uni := packet.New([]byte{1}, packet.Common{Kind: packet.KindCommon})
	uni.Ctrl.Phy.Dst = 3
	multi := packet.New([]byte{2}, packet.Common{Kind: packet.KindMulticast})
	multi.Ctrl.Phy.Dsts = []sim.NodeID{2, 99}
	bcast := packet.New([]byte{3}, packet.Common{Kind: packet.KindBroadcast})
	assert.Equal(t, 1, c.SendDown(uni))
	assert.Equal(t, 1, c.SendDown(multi))
	assert.Equal(t, 2, c.SendDown(bcast))
	h.Run(sim.Second)

	// THEN each terminal got exactly what was addressed to it
	require.Len(t, a.got, 2)
	require.Len(t, b.got, 2)
	assert.Equal(t, []byte{2}, a.got[0].Payload)
	assert.Equal(t, []byte{1}, b.got[0].Payload)
}

func TestShared_DeliveryIsDelayedCopyWithReceivedPower(t *testing.T) {
	// GIVEN a terminal 300 m away and a 100 dB flat loss
	h, c, _, a, _ := newShared(t)
	p := packet.New([]byte{9}, packet.Common{})
	p.Ctrl.Phy.Dst = a.id
	p.Ctrl.Phy.TxPower = 30

	// WHEN the packet is sent and then mutated by the sender
	c.SendDown(p)
	p.Payload[0] = 0
	assert.Empty(t, a.got, "delivery must wait for propagation")
	h.Run(sim.Second)

	// THEN the receiver sees the original bytes at 30+10+0-100 dBm
	require.Len(t, a.got, 1)
	assert.Equal(t, []byte{9}, a.got[0].Payload)
	assert.InDelta(t, -60, a.got[0].Ctrl.Phy.RxPower, 1e-9)
}

func TestShared_RemovedTerminalMissesInFlightFrame(t *testing.T) {
	h, c, _, a, _ := newShared(t)
	p := packet.New([]byte{1}, packet.Common{})
	p.Ctrl.Phy.Dst = a.id
	c.SendDown(p)
	c.RemoveTerminal(a.id)
	h.Run(sim.Second)
	assert.Empty(t, a.got)
}

func TestShared_SendUpRequiresRegistration(t *testing.T) {
	h, c, station, _, _ := newShared(t)
	assert.False(t, c.SendUp(42, packet.New(nil, packet.Common{})))
	assert.True(t, c.SendUp(2, packet.New(nil, packet.Common{})))
	h.Run(sim.Second)
	assert.Len(t, station.got, 1)
}

func TestDedicated_BindAndPowerSteps(t *testing.T) {
	// GIVEN an unbound dedicated channel
	h := engine.NewHeap()
	station := &fakeRadio{id: 1}
	ue := &fakeRadio{id: 2}
	d := NewDedicated(h, flatLoss, station, ue,
		PowerLimits{Initial: 0, Min: -2, Max: 2},
		PowerLimits{Initial: 20, Min: 0, Max: 30})

	// WHEN sending before and after binding
	assert.False(t, d.SendUp(packet.New(nil, packet.Common{})))
	d.Bind()
	d.Bind()
	assert.Equal(t, 1, ue.binds)
	assert.Same(t, d, ue.bound)
	assert.True(t, d.SendUp(packet.New(nil, packet.Common{})))
	h.Run(sim.Second)

	// THEN the uplink frame carries the uplink power
	require.Len(t, station.got, 1)
	assert.InDelta(t, -100, station.got[0].Ctrl.Phy.RxPower, 1e-9)

	// THEN power steps are clamped to the limits
	d.StepUplinkPower(1)
	d.StepUplinkPower(1)
	assert.Equal(t, 2.0, d.StepUplinkPower(1))
	assert.Equal(t, -2.0, d.StepUplinkPower(-10))
	assert.Equal(t, 21.0, d.StepDownlinkPower(1))

	d.Unbind()
	assert.Nil(t, ue.bound)
	assert.False(t, d.SendDown(packet.New(nil, packet.Common{})))
}

func TestLogDistance_MonotoneInDistance(t *testing.T) {
	// GIVEN the default model
	m := DefaultLogDistance()

	// WHEN loss is evaluated at 10 m and 100 m
	near := m.Loss(r3.Vec{}, r3.Vec{X: 10})
	far := m.Loss(r3.Vec{}, r3.Vec{X: 100})

	// THEN a decade of distance costs 10*exponent dB
	assert.InDelta(t, 35, far-near, 1e-9)
	// THEN the reference loss matches free space at 1 m
	ref := 20 * math.Log10(4*math.Pi/m.Wavelength())
	assert.InDelta(t, ref, m.Loss(r3.Vec{}, r3.Vec{X: 0.1}), 1e-9)
}
