// Package conflict holds the intersection conflict topology and the rules that
// decide which GTU goes first at a conflict point.
//
// A Conflict is a point where two paths (edge, position) meet. Conflicts are
// loaded once into an immutable, index-addressed Topology; only the priority
// between the GTUs approaching a conflict is recomputed every step.
package conflict

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/cxd309/gtu-engine/internal/graph"
)

// ErrUnknownConflict is returned when a conflict id is not in the topology.
var ErrUnknownConflict = errors.New("unknown conflict")

// Type is the spatial relation of two paths at a conflict point.
type Type string

const (
	Crossing Type = "crossing"
	Merge    Type = "merge"
	Split    Type = "split"
)

func (t Type) valid() bool {
	return t == Crossing || t == Merge || t == Split
}

// Priority is the outcome of a rule for one GTU at one conflict.
type Priority string

const (
	GiveWay      Priority = "give_way"
	HavePriority Priority = "have_priority"
	SplitOnly    Priority = "split" // diverging paths, nothing to yield for
)

// Side names one of the two paths of a conflict.
type Side string

const (
	SideNone Side = ""
	SideA    Side = "a"
	SideB    Side = "b"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	default:
		return SideNone
	}
}

// Path locates a conflict point on one edge.
type Path struct {
	Edge     graph.EdgeID `json:"edge"`
	Position float64      `json:"position"` // metres from the edge start
}

// Conflict is an immutable meeting point of two paths.
type Conflict struct {
	ID   string `json:"conflict_id"`
	Type Type   `json:"type"`
	A    Path   `json:"a"`
	B    Path   `json:"b"`
	// Major names the side with static right of way, if any.
	Major Side `json:"priority,omitempty"`
}

// Path returns the path on side s.
func (c Conflict) Path(s Side) Path {
	if s == SideB {
		return c.B
	}
	return c.A
}

// EdgeLookup resolves edges; *graph.Graph satisfies it.
type EdgeLookup interface {
	GetEdgeByID(id graph.EdgeID) (graph.Edge, error)
}

func (c Conflict) validate(edges EdgeLookup) error {
	if c.ID == "" {
		return errors.New("conflict without id")
	}
	if !c.Type.valid() {
		return fmt.Errorf("conflict %q: unknown type %q", c.ID, c.Type)
	}
	if c.Major != SideNone && c.Major != SideA && c.Major != SideB {
		return fmt.Errorf("conflict %q: priority must be %q, %q or empty, got %q", c.ID, SideA, SideB, c.Major)
	}
	if c.A.Edge == c.B.Edge {
		return fmt.Errorf("conflict %q: both paths on edge %q", c.ID, c.A.Edge)
	}
	for _, s := range []Side{SideA, SideB} {
		p := c.Path(s)
		e, err := edges.GetEdgeByID(p.Edge)
		if err != nil {
			return fmt.Errorf("conflict %q side %s: %w", c.ID, s, err)
		}
		if p.Position < 0 || p.Position > e.Length {
			return fmt.Errorf("conflict %q side %s: position %v outside edge %q", c.ID, s, p.Position, e.ID)
		}
	}
	return nil
}

// Ref points from an edge to a conflict on it.
type Ref struct {
	Index    int
	Side     Side
	Position float64
}

// Topology is the immutable table of all conflicts in a network. It is safe
// for concurrent use.
type Topology struct {
	conflicts []Conflict
	index     map[string]int
	byEdge    map[graph.EdgeID][]Ref
}

// NewTopology validates conflicts against edges and indexes them.
func NewTopology(conflicts []Conflict, edges EdgeLookup) (*Topology, error) {
	t := &Topology{
		conflicts: slices.Clone(conflicts),
		index:     make(map[string]int, len(conflicts)),
		byEdge:    make(map[graph.EdgeID][]Ref),
	}
	for i, c := range t.conflicts {
		if err := c.validate(edges); err != nil {
			return nil, err
		}
		if _, dup := t.index[c.ID]; dup {
			return nil, fmt.Errorf("duplicate conflict id %q", c.ID)
		}
		t.index[c.ID] = i
		for _, s := range []Side{SideA, SideB} {
			p := c.Path(s)
			t.byEdge[p.Edge] = append(t.byEdge[p.Edge], Ref{Index: i, Side: s, Position: p.Position})
		}
	}
	for _, refs := range t.byEdge {
		slices.SortFunc(refs, func(a, b Ref) int {
			return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.Index, b.Index))
		})
	}
	return t, nil
}

// Len returns the number of conflicts.
func (t *Topology) Len() int {
	if t == nil {
		return 0
	}
	return len(t.conflicts)
}

// At returns the conflict at index i.
func (t *Topology) At(i int) Conflict { return t.conflicts[i] }

// Get returns the conflict with the given id.
func (t *Topology) Get(id string) (Conflict, error) {
	i, ok := t.index[id]
	if !ok {
		return Conflict{}, fmt.Errorf("%w %q", ErrUnknownConflict, id)
	}
	return t.conflicts[i], nil
}

// OnEdge returns the conflicts on edge, ordered by position. The returned
// slice must not be modified.
func (t *Topology) OnEdge(edge graph.EdgeID) []Ref {
	if t == nil {
		return nil
	}
	return t.byEdge[edge]
}
