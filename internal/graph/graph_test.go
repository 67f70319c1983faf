package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestGraph returns a small network:
//
//	A --ab(3 lanes)--> B --bc(2 lanes)--> C
//	                   B --bd(1 lane) --> D
//
// Lanes 1 and 2 of ab continue onto bc, lane 0 onto bd.
func buildTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph(GraphData{
		Nodes: []Node{{ID: "A"}, {ID: "B"}, {ID: "C"}, {ID: "D"}},
		Edges: []Edge{
			{ID: "ab", U: "A", V: "B", Length: 200, Lanes: 3, LaneAccess: map[EdgeID][]int{"bc": {2, 1}, "bd": {0}}},
			{ID: "bc", U: "B", V: "C", Length: 100, Lanes: 2},
			{ID: "bd", U: "B", V: "D", Length: 150},
		},
	})
	require.NoError(t, err)
	return g
}

func TestShortestPath(t *testing.T) {
	g := buildTestGraph(t)

	p, err := g.GetShortestPath("A", "C")
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"A", "B", "C"}, p.Route)
	assert.Equal(t, 300.0, p.Length)

	_, err = g.GetShortestPath("C", "A")
	assert.Error(t, err)

	next, err := g.GetNextEdge("B", "D")
	require.NoError(t, err)
	assert.Equal(t, "bd", next.ID)
}

func TestLaneAccess(t *testing.T) {
	g := buildTestGraph(t)

	n, err := g.LaneChangesToward("ab", 0, "bc")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = g.LaneChangesToward("ab", 2, "bd")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = g.LaneChangesToward("bc", 1, "missing")
	require.NoError(t, err)
	assert.Zero(t, n, "without lane access every lane continues")
}

func TestMapLane(t *testing.T) {
	g := buildTestGraph(t)

	tests := []struct {
		from   EdgeID
		lane   int
		to     EdgeID
		want   int
		wantOK bool
	}{
		{"ab", 1, "bc", 0, true},
		{"ab", 2, "bc", 1, true},
		{"ab", 0, "bc", 0, false},
		{"ab", 0, "bd", 0, true},
		{"ab", 2, "bd", 0, false},
	}
	for _, tc := range tests {
		got, ok, err := g.MapLane(tc.from, tc.lane, tc.to)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s lane %d -> %s", tc.from, tc.lane, tc.to)
		assert.Equal(t, tc.wantOK, ok, "%s lane %d -> %s", tc.from, tc.lane, tc.to)
	}
}

func TestNewGraph_Errors(t *testing.T) {
	nodes := []Node{{ID: "A"}, {ID: "B"}}
	tests := []struct {
		name  string
		edges []Edge
	}{
		{"missing node", []Edge{{ID: "x", U: "A", V: "Z", Length: 1}}},
		{"zero length", []Edge{{ID: "x", U: "A", V: "B"}}},
		{"duplicate", []Edge{{ID: "x", U: "A", V: "B", Length: 1}, {ID: "x", U: "A", V: "B", Length: 1}}},
		{"bad access edge", []Edge{{ID: "x", U: "A", V: "B", Length: 1, LaneAccess: map[EdgeID][]int{"y": {0}}}}},
		{"bad access lane", []Edge{
			{ID: "x", U: "A", V: "B", Length: 1, LaneAccess: map[EdgeID][]int{"y": {3}}},
			{ID: "y", U: "B", V: "A", Length: 1},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGraph(GraphData{Nodes: nodes, Edges: tc.edges})
			assert.Error(t, err)
		})
	}

	_, err := NewGraph(GraphData{Nodes: []Node{{ID: "A", Type: "roundabout"}}})
	assert.ErrorContains(t, err, "unknown type")
	_, err = NewGraph(GraphData{Nodes: []Node{
		{ID: "A", Type: NodeTypeOrigin},
		{ID: "B", Type: NodeTypeIntersection},
		{ID: "C", Type: NodeTypeLink},
		{ID: "D", Type: NodeTypeDestination},
	}})
	assert.NoError(t, err)
}

func TestShortestPath_ConcurrentReads(t *testing.T) {
	g := buildTestGraph(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.GetShortestPath("A", "D")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
