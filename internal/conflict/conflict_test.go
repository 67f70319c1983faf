package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/gtu-engine/internal/carfollowing"
	"github.com/cxd309/gtu-engine/internal/graph"
	"github.com/cxd309/gtu-engine/internal/perception"
)

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewGraph(graph.GraphData{
		Nodes: []graph.Node{{ID: "W"}, {ID: "E"}, {ID: "N"}, {ID: "S"}, {ID: "X"}},
		Edges: []graph.Edge{
			{ID: "we", U: "W", V: "X", Length: 100},
			{ID: "ns", U: "N", V: "X", Length: 100},
			{ID: "xe", U: "X", V: "E", Length: 100},
			{ID: "xs", U: "X", V: "S", Length: 100},
		},
	})
	require.NoError(t, err)
	return g
}

func approaching(id string, distance, speed float64) perception.Headway {
	h := perception.NewHeadway(id, perception.KindGTU, distance, 0, speed)
	h.Length = 4
	return h
}

func TestNewTopology(t *testing.T) {
	g := testGraph(t)
	top, err := NewTopology([]Conflict{
		{ID: "c2", Type: Crossing, A: Path{"we", 90}, B: Path{"ns", 95}},
		{ID: "c1", Type: Merge, A: Path{"we", 40}, B: Path{"ns", 40}, Major: SideA},
		{ID: "s", Type: Split, A: Path{"xe", 0}, B: Path{"xs", 0}},
	}, g)
	require.NoError(t, err)
	assert.Equal(t, 3, top.Len())

	refs := top.OnEdge("we")
	require.Len(t, refs, 2)
	assert.Equal(t, "c1", top.At(refs[0].Index).ID)
	assert.Equal(t, SideA, refs[0].Side)
	assert.Equal(t, 90.0, refs[1].Position)
	assert.Empty(t, top.OnEdge("unknown"))

	c, err := top.Get("s")
	require.NoError(t, err)
	assert.Equal(t, Split, c.Type)
	_, err = top.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownConflict)

	var empty *Topology
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.OnEdge("we"))
}

func TestNewTopology_Errors(t *testing.T) {
	g := testGraph(t)
	tests := []struct {
		name      string
		conflicts []Conflict
		want      string
	}{
		{"type", []Conflict{{ID: "c", Type: "diagonal", A: Path{"we", 1}, B: Path{"ns", 1}}}, "unknown type"},
		{"edge", []Conflict{{ID: "c", Type: Crossing, A: Path{"zz", 1}, B: Path{"ns", 1}}}, "side a"},
		{"position", []Conflict{{ID: "c", Type: Crossing, A: Path{"we", 101}, B: Path{"ns", 1}}}, "outside edge"},
		{"same edge", []Conflict{{ID: "c", Type: Crossing, A: Path{"we", 1}, B: Path{"we", 2}}}, "both paths"},
		{"major", []Conflict{{ID: "c", Type: Crossing, A: Path{"we", 1}, B: Path{"ns", 1}, Major: "c"}}, "priority"},
		{"duplicate", []Conflict{
			{ID: "c", Type: Crossing, A: Path{"we", 1}, B: Path{"ns", 1}},
			{ID: "c", Type: Crossing, A: Path{"we", 2}, B: Path{"ns", 2}},
		}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTopology(tt.conflicts, g)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func allRules(t *testing.T) []Rule {
	t.Helper()
	var out []Rule
	for _, name := range RuleNames() {
		r, err := NewRule(name, DefaultParameters())
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestSplitNeverGivesWay(t *testing.T) {
	split := Conflict{ID: "s", Type: Split, A: Path{"xe", 0}, B: Path{"xs", 0}, Major: SideB}
	for _, rule := range allRules(t) {
		t.Run(rule.Name(), func(t *testing.T) {
			for _, ownDist := range []float64{-2, 0, 5, 50} {
				for _, otherDist := range []float64{-2, 0, 1, 30} {
					for _, speed := range []float64{0, 5, 20} {
						own := Approach{GTU: "b", Distance: ownDist, Speed: speed, Length: 4}
						other := Approach{GTU: "a", Distance: otherDist, Speed: 20 - speed, Length: 4}
						p := rule.DeterminePriority(split, SideA, own, other)
						assert.Equal(t, SplitOnly, p)
					}
				}
			}
		})
	}
}

func TestGapRule(t *testing.T) {
	r := GapRule{SafetyMargin: 2}
	c := Conflict{ID: "c", Type: Crossing}
	own := Approach{GTU: "own", Distance: 30, Speed: 10, Length: 4}

	tests := []struct {
		name  string
		other Approach
		want  Priority
	}{
		{"other far away", Approach{GTU: "o", Distance: 500, Speed: 10, Length: 4}, HavePriority},
		{"other passes well before", Approach{GTU: "o", Distance: 2, Speed: 20, Length: 4}, HavePriority},
		{"other stopped", Approach{GTU: "o", Distance: 5, Speed: 0, Length: 4}, HavePriority},
		{"other on the conflict", Approach{GTU: "o", Distance: -1, Speed: 0, Length: 4}, GiveWay},
		{"other cleared", Approach{GTU: "o", Distance: -10, Speed: 5, Length: 4}, HavePriority},
		{"other arrives first", Approach{GTU: "o", Distance: 25, Speed: 10, Length: 4}, GiveWay},
		{"own arrives first", Approach{GTU: "o", Distance: 35, Speed: 10, Length: 4}, HavePriority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.DeterminePriority(c, SideA, own, tt.other))
		})
	}
}

func TestGapRule_ExactlyOneYields(t *testing.T) {
	r := GapRule{SafetyMargin: 2}
	c := Conflict{ID: "c", Type: Merge}

	a := Approach{GTU: "a", Distance: 30, Speed: 10, Length: 4}
	b := Approach{GTU: "b", Distance: 30, Speed: 10, Length: 4}
	assert.Equal(t, HavePriority, r.DeterminePriority(c, SideA, a, b))
	assert.Equal(t, GiveWay, r.DeterminePriority(c, SideB, b, a))

	b.Distance = 28
	assert.Equal(t, GiveWay, r.DeterminePriority(c, SideA, a, b))
	assert.Equal(t, HavePriority, r.DeterminePriority(c, SideB, b, a))
}

// TestGapRule_StoppedOtherWithinReach verifies that a standing GTU close to
// the conflict point counts as arriving once it pulls away, and that both
// GTUs of the pair agree on who goes first.
func TestGapRule_StoppedOtherWithinReach(t *testing.T) {
	r := GapRule{SafetyMargin: 2}
	c := Conflict{ID: "c", Type: Crossing}
	moving := Approach{GTU: "m", Distance: 30, Speed: 10, Length: 4, MaxSpeed: 15, MaxAcceleration: 1.25}

	tests := []struct {
		name        string
		stopped     Approach
		movingFirst bool
	}{
		{"stopped further away", Approach{GTU: "s", Distance: 5, Length: 4, MaxSpeed: 15, MaxAcceleration: 1.25}, true},
		{"stopped at the line", Approach{GTU: "s", Distance: 2, Length: 4, MaxSpeed: 15, MaxAcceleration: 1.25}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := r.DeterminePriority(c, SideA, moving, tt.stopped)
			s := r.DeterminePriority(c, SideB, tt.stopped, moving)
			assert.NotEqual(t, m, s, "exactly one of them yields")
			if tt.movingFirst {
				assert.Equal(t, HavePriority, m)
			} else {
				assert.Equal(t, GiveWay, m)
			}
		})
	}

	t.Run("both stopped", func(t *testing.T) {
		a := Approach{GTU: "a", Distance: 5, Length: 4, MaxAcceleration: 1.25}
		b := Approach{GTU: "b", Distance: 5, Length: 4, MaxAcceleration: 1.25}
		assert.Equal(t, HavePriority, r.DeterminePriority(c, SideA, a, b))
		assert.Equal(t, GiveWay, r.DeterminePriority(c, SideB, b, a))
	})
}

func TestPriorityRule(t *testing.T) {
	r := PriorityRule{Gap: GapRule{SafetyMargin: 2}}
	c := Conflict{ID: "c", Type: Crossing, Major: SideA}
	near := Approach{GTU: "z", Distance: 25, Speed: 10, Length: 4}
	far := Approach{GTU: "z", Distance: 500, Speed: 10, Length: 4}
	own := Approach{GTU: "a", Distance: 30, Speed: 10, Length: 4}

	assert.Equal(t, HavePriority, r.DeterminePriority(c, SideA, own, near))
	assert.Equal(t, GiveWay, r.DeterminePriority(c, SideB, own, near))
	assert.Equal(t, HavePriority, r.DeterminePriority(c, SideB, own, far))

	// without a major side it behaves as the gap rule, own id wins the tie
	c.Major = SideNone
	assert.Equal(t, HavePriority, r.DeterminePriority(c, SideB, own, Approach{GTU: "b", Distance: 30, Speed: 10, Length: 4}))
}

func TestNewRule_Unknown(t *testing.T) {
	_, err := NewRule("zipper", DefaultParameters())
	assert.ErrorIs(t, err, ErrUnknownRule)
	assert.Equal(t, []string{GapRuleName, PriorityRuleName, SplitRuleName}, RuleNames())
}

func TestResolver_Cap(t *testing.T) {
	model := carfollowing.DefaultIDM()
	res := NewResolver(GapRule{SafetyMargin: 2})
	own := Approach{GTU: "own", Speed: 10, Length: 4, MaxSpeed: 20}
	crossing := Conflict{ID: "c", Type: Crossing}
	aFree := model.Acceleration(10, 20, perception.None)

	t.Run("give way", func(t *testing.T) {
		enc := Encounter{Conflict: crossing, Side: SideA, Distance: 30, Others: perception.FromSlice(approaching("o", 25, 10))}
		a, outcomes := res.Cap(aFree, model, 20, own, []Encounter{enc})
		require.Len(t, outcomes, 1)
		assert.Equal(t, GiveWay, outcomes[0].Priority)
		assert.True(t, outcomes[0].Yield)
		assert.Less(t, a, 0.0)
	})

	t.Run("no one around", func(t *testing.T) {
		enc := Encounter{Conflict: crossing, Side: SideA, Distance: 30}
		a, outcomes := res.Cap(aFree, model, 20, own, []Encounter{enc})
		assert.Equal(t, aFree, a)
		assert.Equal(t, HavePriority, outcomes[0].Priority)
	})

	t.Run("too late to stop", func(t *testing.T) {
		fast := own
		fast.Speed = 20
		enc := Encounter{Conflict: crossing, Side: SideA, Distance: 5, Others: perception.FromSlice(approaching("o", -1, 0))}
		a, outcomes := res.Cap(0.5, model, 20, fast, []Encounter{enc})
		assert.Equal(t, GiveWay, outcomes[0].Priority)
		assert.False(t, outcomes[0].Yield)
		assert.Equal(t, 0.5, a)
	})

	t.Run("split", func(t *testing.T) {
		enc := Encounter{Conflict: Conflict{ID: "s", Type: Split}, Side: SideA, Distance: 10, Others: perception.FromSlice(approaching("o", 1, 10))}
		a, outcomes := res.Cap(aFree, model, 20, own, []Encounter{enc})
		assert.Equal(t, SplitOnly, outcomes[0].Priority)
		assert.Equal(t, aFree, a)
	})

	t.Run("nothing to resolve", func(t *testing.T) {
		a, outcomes := res.Cap(1, model, 20, own, nil)
		assert.Equal(t, 1.0, a)
		assert.Nil(t, outcomes)
	})
}
