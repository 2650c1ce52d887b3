package manager_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/umts-sim/umts-sim/sim"
	"github.com/umts-sim/umts-sim/sim/manager"
	"github.com/umts-sim/umts-sim/sim/network"
	"github.com/umts-sim/umts-sim/sim/rrc"
	"github.com/umts-sim/umts-sim/sim/scenario"
)

func threeCells(t *testing.T) *network.Network {
	t.Helper()
	s := &scenario.Scenario{
		Seed:    9,
		Horizon: time.Second,
		Stations: []scenario.StationSpec{
			{ID: 1, Position: [3]float64{0, 0, 0}, Radius: 600, Frequency: 2.14e9},
			{ID: 2, Position: [3]float64{1000, 0, 0}, Radius: 600, Frequency: 2.14e9},
			{ID: 3, Position: [3]float64{500, 0, 0}, Radius: 600, Frequency: 2.15e9},
		},
		Terminals: []scenario.TerminalSpec{
			{ID: 10, Position: [3]float64{100, 0, 0}},
			{ID: 11, Position: [3]float64{120, 0, 0}},
		},
	}
	net, err := network.Build(s, network.DefaultConfig())
	require.NoError(t, err)
	return net
}

func TestRegistry_PeersShareFrequency(t *testing.T) {
	reg := threeCells(t).Registry()

	assert.Equal(t, []sim.NodeID{1, 2, 3}, reg.Stations())
	assert.Equal(t, []sim.NodeID{2}, reg.Peers(1))
	assert.Equal(t, []sim.NodeID{1}, reg.Peers(2))
	assert.Empty(t, reg.Peers(3))
	assert.Nil(t, reg.Peers(42))
}

func TestRegistry_CandidatesNearestFirst(t *testing.T) {
	reg := threeCells(t).Registry()

	// GIVEN a point 400 m from station 1, 100 m from 3 and 600 m from 2
	cands := reg.Candidates(r3.Vec{X: 400}, 0)

	// THEN all three cover it, nearest first
	require.Len(t, cands, 3)
	assert.Equal(t, manager.Candidate{ID: 3, Distance: 100}, cands[0])
	assert.Equal(t, sim.NodeID(1), cands[1].ID)
	assert.Equal(t, sim.NodeID(2), cands[2].ID)

	assert.Empty(t, reg.Candidates(r3.Vec{X: 5000}, 0))
}

func TestStation_ServicesFollowMembership(t *testing.T) {
	net := threeCells(t)
	st, _ := net.Station(1)
	var checked bool
	net.Scheduler().Schedule(200*sim.Millisecond, func(sim.Time) {
		// GIVEN both terminals attached to station 1
		require.ElementsMatch(t, []sim.NodeID{10, 11}, st.Manager.Terminals())

		// WHEN a multicast service opens and both subscribe
		id, err := st.Manager.OpenService("match", rrc.AppMulticast, 64000, nil)
		require.NoError(t, err)
		_, err = st.Manager.OpenService("match", rrc.AppMulticast, 64000, nil)
		assert.Error(t, err)
		assert.True(t, st.Manager.Subscribe("match", 10))
		assert.True(t, st.Manager.Subscribe("match", 11))
		assert.False(t, st.Manager.Subscribe("match", 11))
		assert.False(t, st.Manager.Subscribe("match", 99))
		info, ok := st.RRC.Flow(id)
		require.True(t, ok)
		assert.Equal(t, []sim.NodeID{10, 11}, info.Members)

		// THEN detaching a terminal drops it from the service, once
		assert.Equal(t, 0, st.Manager.Detach(11))
		assert.Equal(t, []sim.NodeID{10}, st.Manager.Subscribers("match"))
		assert.Equal(t, 0, st.Manager.Detach(11))
		assert.True(t, st.Manager.Unsubscribe("match", 10))
		assert.Empty(t, st.Manager.Subscribers("match"))

		// AND closing the service forgets its name
		assert.True(t, st.Manager.CloseFlow(id))
		assert.Nil(t, st.Manager.Subscribers("match"))
		checked = true
	})
	net.Run()
	assert.True(t, checked)
}

func TestStation_OpenFlowNeedsAttachment(t *testing.T) {
	net := threeCells(t)
	st, _ := net.Station(2)

	// GIVEN terminal 10 is served by station 1, WHEN station 2 opens a flow to it
	var err error
	net.Scheduler().Schedule(200*sim.Millisecond, func(sim.Time) {
		_, err = st.Manager.OpenFlow(10, rrc.AppWeb, 30000, nil)
	})
	net.Run()

	// THEN it is refused
	assert.True(t, errors.Is(err, rrc.ErrNotAttached))
}

func TestTerminal_AttachesToNearest(t *testing.T) {
	net := threeCells(t)
	ue, _ := net.Terminal(10)
	report := net.Run()

	assert.Equal(t, sim.NodeID(1), ue.Manager.Serving())
	assert.Equal(t, 0, ue.Manager.Handovers())
	assert.Equal(t, sim.NodeID(1), ue.Phy.Serving())
	assert.Equal(t, 0, report.Trace.Attaches) // tracing is off in this scenario
}
