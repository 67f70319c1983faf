// Package world holds the committed state every GTU decides against during a
// step, and builds each GTU's perception of it.
//
// A Snapshot is immutable once built: the engine creates one from the state
// committed at the end of the previous step, hands a View of it to every
// deciding GTU in parallel, and only then commits the new state.
package world

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/cxd309/gtu-engine/internal/conflict"
	"github.com/cxd309/gtu-engine/internal/graph"
	"github.com/cxd309/gtu-engine/internal/historical"
	"github.com/cxd309/gtu-engine/internal/incentive"
)

// Record is what other GTUs can perceive of a GTU at one point in time.
type Record struct {
	Speed        float64
	Acceleration float64
	Desire       incentive.Desire
}

// History answers what a GTU's record was at a past time.
// *historical.Historical[Record] implements it.
type History interface {
	GetAt(t float64) (Record, error)
}

var _ History = (*historical.Historical[Record])(nil)

// Entry is one GTU on the road in a snapshot.
type Entry struct {
	ID              string
	Edge            graph.EdgeID
	Lane            int
	Position        float64 // m, front of the GTU along Edge
	Length          float64
	Destination     graph.NodeID
	DesiredSpeed    float64 // m/s on Edge
	MaxAcceleration float64 // m/s²
	Record
	// History holds the GTU's committed records; nil disables perception
	// delay for this GTU.
	History History
}

// Options bounds perception.
type Options struct {
	LookAhead float64 `json:"look_ahead" yaml:"look_ahead" validate:"gt=0"` // m
	LookBack  float64 `json:"look_back" yaml:"look_back" validate:"gt=0"`   // m
}

// DefaultOptions returns the default perception ranges.
func DefaultOptions() Options {
	return Options{LookAhead: 295, LookBack: 100}
}

// Network is the static part of the world: roads and conflicts.
type Network struct {
	Graph    *graph.Graph
	Topology *conflict.Topology
	into     map[graph.NodeID][]graph.Edge
}

// NewNetwork indexes g and top for perception. top may be nil.
func NewNetwork(g *graph.Graph, top *conflict.Topology) *Network {
	n := &Network{Graph: g, Topology: top, into: make(map[graph.NodeID][]graph.Edge)}
	for _, e := range g.Edges() {
		n.into[e.V] = append(n.into[e.V], e)
	}
	return n
}

type laneKey struct {
	edge graph.EdgeID
	lane int
}

// Snapshot is the committed state of all GTUs on the road at one time.
type Snapshot struct {
	net     *Network
	time    float64
	opts    Options
	entries []Entry
	index   map[string]int
	lanes   map[laneKey][]int     // entry indices, rear to front
	edges   map[graph.EdgeID][]int // entry indices, rear to front, all lanes
}

// NewSnapshot builds the snapshot at time now from entries.
func NewSnapshot(net *Network, now float64, entries []Entry, opts Options) (*Snapshot, error) {
	s := &Snapshot{
		net:     net,
		time:    now,
		opts:    opts,
		entries: entries,
		index:   make(map[string]int, len(entries)),
		lanes:   make(map[laneKey][]int),
		edges:   make(map[graph.EdgeID][]int),
	}
	for i, e := range entries {
		if _, dup := s.index[e.ID]; dup {
			return nil, fmt.Errorf("gtu %q twice in snapshot", e.ID)
		}
		s.index[e.ID] = i
		k := laneKey{e.Edge, e.Lane}
		s.lanes[k] = append(s.lanes[k], i)
		s.edges[e.Edge] = append(s.edges[e.Edge], i)
	}
	byPosition := func(a, b int) int {
		return cmp.Or(cmp.Compare(entries[a].Position, entries[b].Position), cmp.Compare(entries[a].ID, entries[b].ID))
	}
	for _, ids := range s.lanes {
		slices.SortFunc(ids, byPosition)
	}
	for _, ids := range s.edges {
		slices.SortFunc(ids, byPosition)
	}
	return s, nil
}

// Len returns the number of GTUs on the road.
func (s *Snapshot) Len() int { return len(s.entries) }

// Entry returns the entry of GTU id.
func (s *Snapshot) Entry(id string) (Entry, bool) {
	i, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// perceived returns what an observer with the given reaction time sees of e:
// its record at now minus the reaction time, or its current record when no
// record is that old.
func (s *Snapshot) perceived(e Entry, reactionTime float64) Record {
	if reactionTime <= 0 || e.History == nil {
		return e.Record
	}
	r, err := e.History.GetAt(s.time - reactionTime)
	if err != nil {
		return e.Record
	}
	return r
}
