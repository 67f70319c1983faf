// Package graph provides the directed, lane-aware road network and cached
// shortest-path lookups used to route GTUs.
//
// Lanes on an edge are numbered from 0 (rightmost) upward. An edge may
// restrict which of its lanes continue onto each downstream edge; without a
// restriction every lane continues.
package graph

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// NodeID, EdgeID, PathID are string aliases used as identifiers.
type (
	NodeID = string
	EdgeID = string
	PathID = string
)

// NodeType classifies a node in the network.
type NodeType string

const (
	NodeTypeOrigin       NodeType = "origin"
	NodeTypeDestination  NodeType = "destination"
	NodeTypeIntersection NodeType = "intersection"
	NodeTypeLink         NodeType = "link"
)

// Valid reports whether t is a known node type. The empty type is allowed.
func (t NodeType) Valid() bool {
	switch t {
	case "", NodeTypeOrigin, NodeTypeDestination, NodeTypeIntersection, NodeTypeLink:
		return true
	}
	return false
}

// Coordinate is a 2D position in metres.
type Coordinate struct {
	X float64 `json:"x"` // metres
	Y float64 `json:"y"` // metres
}

// Node is a point in the network graph.
type Node struct {
	ID   NodeID     `json:"node_id"`
	Loc  Coordinate `json:"loc"`
	Type NodeType   `json:"type,omitempty"`
}

// Edge is a directed road section between two nodes with a length in metres.
// SpeedLimit is optional: if nil the edge imposes no limit and the vehicle's
// own maximum speed applies. LaneAccess maps a downstream edge to the lanes of
// this edge that continue onto it.
type Edge struct {
	ID         EdgeID           `json:"edge_id"`
	U          NodeID           `json:"u"`
	V          NodeID           `json:"v"`
	Length     float64          `json:"length"`                // metres
	SpeedLimit *float64         `json:"speed_limit,omitempty"` // m/s; nil = no restriction
	Lanes      int              `json:"lanes,omitempty"`       // 0 is read as 1
	LaneAccess map[EdgeID][]int `json:"lane_access,omitempty"`
}

// LaneCount returns the number of lanes, at least 1.
func (e Edge) LaneCount() int { return max(e.Lanes, 1) }

// HasLane reports whether lane is a valid lane index on e.
func (e Edge) HasLane(lane int) bool { return lane >= 0 && lane < e.LaneCount() }

// LanesToward returns the lanes of e that continue onto edge next.
func (e Edge) LanesToward(next EdgeID) []int {
	if lanes, ok := e.LaneAccess[next]; ok {
		return lanes
	}
	return lo.Range(e.LaneCount())
}

// GraphData is the serialisable input representation of a network graph.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Position is a point along a directed edge in the graph.
type Position struct {
	Edge              EdgeID  `json:"edge"`
	DistanceAlongEdge float64 `json:"distance_along_edge"` // metres
}

// PathInfo holds the result of a shortest-path computation.
type PathInfo struct {
	ID     PathID
	Route  []NodeID // ordered node IDs from start to end
	Length float64  // total path length in metres
}

// Graph is a directed weighted graph with cached shortest-path computation.
// Lookups are safe for concurrent use once the graph has been built.
type Graph struct {
	nodes       []Node
	edges       []Edge
	nodeMap     map[NodeID]Node
	edgeMap     map[EdgeID]Edge
	edgeByNodes map[NodeID]map[NodeID]Edge // u → v → edge

	mu sync.RWMutex
	// Floyd-Warshall tables; nil until first needed.
	dist     map[NodeID]map[NodeID]float64
	nextNode map[NodeID]map[NodeID]NodeID
	// Path cache; cleared whenever the graph topology changes.
	pathCache map[PathID]PathInfo
}

// NewGraph builds a Graph from GraphData, returning an error if any node, edge
// or lane reference is invalid.
func NewGraph(data GraphData) (*Graph, error) {
	g := &Graph{
		nodeMap:     make(map[NodeID]Node),
		edgeMap:     make(map[EdgeID]Edge),
		edgeByNodes: make(map[NodeID]map[NodeID]Edge),
		pathCache:   make(map[PathID]PathInfo),
	}
	for _, n := range data.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range data.Edges {
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	if err := g.validateLaneAccess(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddNode adds a node to the graph. Returns an error if the node ID already
// exists or its type is unknown.
func (g *Graph) AddNode(n Node) error {
	if _, exists := g.nodeMap[n.ID]; exists {
		return fmt.Errorf("node %q already exists", n.ID)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("node %q: unknown type %q", n.ID, n.Type)
	}
	g.nodes = append(g.nodes, n)
	g.nodeMap[n.ID] = n
	g.invalidate()
	return nil
}

// AddEdge adds a directed edge to the graph. Returns an error if the edge ID
// already exists, either endpoint node is missing or the length is not positive.
func (g *Graph) AddEdge(e Edge) error {
	if _, exists := g.edgeMap[e.ID]; exists {
		return fmt.Errorf("edge %q already exists", e.ID)
	}
	if _, ok := g.nodeMap[e.U]; !ok {
		return fmt.Errorf("edge %q: source node %q not found", e.ID, e.U)
	}
	if _, ok := g.nodeMap[e.V]; !ok {
		return fmt.Errorf("edge %q: target node %q not found", e.ID, e.V)
	}
	if e.Length <= 0 {
		return fmt.Errorf("edge %q: length must be positive, got %v", e.ID, e.Length)
	}
	if e.Lanes < 0 {
		return fmt.Errorf("edge %q: negative lane count %d", e.ID, e.Lanes)
	}
	g.edges = append(g.edges, e)
	g.edgeMap[e.ID] = e
	if g.edgeByNodes[e.U] == nil {
		g.edgeByNodes[e.U] = make(map[NodeID]Edge)
	}
	g.edgeByNodes[e.U][e.V] = e
	g.invalidate()
	return nil
}

// validateLaneAccess checks every lane access entry points at a successor edge
// and at lanes that exist.
func (g *Graph) validateLaneAccess() error {
	for _, e := range g.edges {
		for next, lanes := range e.LaneAccess {
			ne, ok := g.edgeMap[next]
			if !ok || ne.U != e.V {
				return fmt.Errorf("edge %q: lane access to %q which does not leave node %q", e.ID, next, e.V)
			}
			if len(lanes) == 0 {
				return fmt.Errorf("edge %q: empty lane access toward %q", e.ID, next)
			}
			for _, l := range lanes {
				if !e.HasLane(l) {
					return fmt.Errorf("edge %q: lane %d in lane access toward %q does not exist", e.ID, l, next)
				}
			}
		}
	}
	return nil
}

func (g *Graph) invalidate() {
	g.mu.Lock()
	g.dist = nil // invalidate cached paths
	g.mu.Unlock()
}

// pathKey returns a canonical string key for a start→end pair.
func pathKey(start, end NodeID) PathID { return start + "->" + end }

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// GetEdgeByID looks up an edge by its ID.
func (g *Graph) GetEdgeByID(id EdgeID) (Edge, error) {
	e, ok := g.edgeMap[id]
	if !ok {
		return Edge{}, fmt.Errorf("edge %q not found", id)
	}
	return e, nil
}

// GetEdge returns the directed edge from u to v.
func (g *Graph) GetEdge(u, v NodeID) (Edge, error) {
	if m, ok := g.edgeByNodes[u]; ok {
		if e, ok := m[v]; ok {
			return e, nil
		}
	}
	return Edge{}, fmt.Errorf("no edge from %q to %q", u, v)
}

// GetNextEdge returns the first edge on the shortest path from u toward dest.
func (g *Graph) GetNextEdge(u, dest NodeID) (Edge, error) {
	path, err := g.GetShortestPath(u, dest)
	if err != nil {
		return Edge{}, err
	}
	if len(path.Route) < 2 {
		return Edge{}, fmt.Errorf("already at destination %q", dest)
	}
	return g.GetEdge(path.Route[0], path.Route[1])
}

// MapLane returns the lane on edge to that a GTU in lane of edge from ends up
// in when it crosses the node between them. ok is false when lane does not
// continue onto to; the returned lane is then the nearest lane that does.
func (g *Graph) MapLane(from EdgeID, lane int, to EdgeID) (mapped int, ok bool, err error) {
	fe, err := g.GetEdgeByID(from)
	if err != nil {
		return 0, false, err
	}
	te, err := g.GetEdgeByID(to)
	if err != nil {
		return 0, false, err
	}
	allowed := slices.Sorted(slices.Values(fe.LanesToward(to)))
	chosen := lane
	ok = slices.Contains(allowed, lane)
	if !ok {
		chosen = lo.MinBy(allowed, func(a, b int) bool { return abs(a-lane) < abs(b-lane) })
	}
	// lanes that continue keep their order from the right
	rank := slices.Index(allowed, chosen)
	return min(rank, te.LaneCount()-1), ok, nil
}

// LaneChangesToward returns how many lane changes a GTU in lane of edge from
// needs to reach a lane that continues onto edge to.
func (g *Graph) LaneChangesToward(from EdgeID, lane int, to EdgeID) (int, error) {
	fe, err := g.GetEdgeByID(from)
	if err != nil {
		return 0, err
	}
	return lo.Min(lo.Map(fe.LanesToward(to), func(a int, _ int) int { return abs(a - lane) })), nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
