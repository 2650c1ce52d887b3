// Package manager implements the per-node session layer: the base-station
// manager that tracks attached terminals, peer cells and service subscribers,
// and the terminal manager that scans for coverage, attaches and hands over.
package manager

import (
	"sort"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/umts-sim/umts-sim/sim"
)

// Registry is the simulation-wide directory of base stations. Stations that
// share a downlink frequency are linked in an undirected peer graph; each one
// counts the others as interferers.
type Registry struct {
	stations map[sim.NodeID]*Station
	ids      []sim.NodeID
	peers    *simple.UndirectedGraph
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stations: make(map[sim.NodeID]*Station),
		peers:    simple.NewUndirectedGraph(),
	}
}

// Add registers a station and links it to every station on its frequency.
// Adding the same id twice is a no-op returning false.
func (r *Registry) Add(s *Station) bool {
	if _, ok := r.stations[s.id]; ok {
		return false
	}
	node := simple.Node(int64(s.id))
	r.peers.AddNode(node)
	for _, id := range r.ids {
		if r.stations[id].frequency == s.frequency {
			r.peers.SetEdge(r.peers.NewEdge(node, simple.Node(int64(id))))
		}
	}
	r.stations[s.id] = s
	r.ids = append(r.ids, s.id)
	slices.Sort(r.ids)
	return true
}

// Station returns a registered station.
func (r *Registry) Station(id sim.NodeID) (*Station, bool) {
	s, ok := r.stations[id]
	return s, ok
}

// Stations lists station ids in ascending order.
func (r *Registry) Stations() []sim.NodeID {
	return slices.Clone(r.ids)
}

// Peers lists the stations sharing id's downlink frequency, ascending.
func (r *Registry) Peers(id sim.NodeID) []sim.NodeID {
	if r.peers.Node(int64(id)) == nil {
		return nil
	}
	var out []sim.NodeID
	for _, n := range graph.NodesOf(r.peers.From(int64(id))) {
		out = append(out, sim.NodeID(n.ID()))
	}
	slices.Sort(out)
	return out
}

// Candidate is a station covering a position.
type Candidate struct {
	ID       sim.NodeID
	Distance float64
}

// Candidates lists the stations whose coverage radius contains pos, nearest
// first; ties go to the lower id.
func (r *Registry) Candidates(pos r3.Vec, now sim.Time) []Candidate {
	var out []Candidate
	for _, id := range r.ids {
		s := r.stations[id]
		d := r3.Norm(r3.Sub(pos, s.phy.Position(now)))
		if d <= s.radius {
			out = append(out, Candidate{ID: id, Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}
