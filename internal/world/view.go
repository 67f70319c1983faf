package world

import (
	"fmt"
	"sort"

	"github.com/cxd309/gtu-engine/internal/conflict"
	"github.com/cxd309/gtu-engine/internal/graph"
	"github.com/cxd309/gtu-engine/internal/perception"
)

// View is one GTU's perception of a Snapshot. It implements lmrs.Environment.
type View struct {
	s    *Snapshot
	self Entry
	edge graph.Edge
	// ahead are the route edges after the current one, up to the first edge
	// that starts beyond look-ahead range. Never empty unless the current
	// edge ends at the destination.
	ahead    []graph.Edge
	reaction float64
}

// View returns the perception of GTU id, whose driver reacts with a delay of
// reactionTime seconds.
func (s *Snapshot) View(id string, reactionTime float64) (*View, error) {
	self, ok := s.Entry(id)
	if !ok {
		return nil, fmt.Errorf("gtu %q not in snapshot", id)
	}
	g := s.net.Graph
	edge, err := g.GetEdgeByID(self.Edge)
	if err != nil {
		return nil, err
	}
	v := &View{s: s, self: self, edge: edge, reaction: reactionTime}
	offset := edge.Length - self.Position
	for e := edge; e.V != self.Destination && (len(v.ahead) == 0 || offset <= s.opts.LookAhead); {
		next, err := g.GetNextEdge(e.V, self.Destination)
		if err != nil {
			return nil, fmt.Errorf("gtu %q route: %w", id, err)
		}
		v.ahead = append(v.ahead, next)
		offset += next.Length
		e = next
	}
	return v, nil
}

func (v *View) lane(lat perception.Lateral) int {
	switch lat {
	case perception.Left:
		return v.self.Lane + 1
	case perception.Right:
		return v.self.Lane - 1
	default:
		return v.self.Lane
	}
}

// LaneExists reports whether the lane at lat exists on the current edge.
func (v *View) LaneExists(lat perception.Lateral) bool {
	return v.edge.HasLane(v.lane(lat))
}

// LaneChanges returns the lane changes needed from the lane at lat to
// continue onto the next edge of the route, and the distance left to the end
// of the current edge.
func (v *View) LaneChanges(lat perception.Lateral) (int, float64, error) {
	x := v.edge.Length - v.self.Position
	if len(v.ahead) == 0 {
		return 0, x, nil
	}
	n, err := v.s.net.Graph.LaneChangesToward(v.edge.ID, v.lane(lat), v.ahead[0].ID)
	return n, x, err
}

// headway observes e as the deciding GTU's driver perceives it, with speed,
// acceleration and desire delayed by the reaction time.
func (v *View) headway(e Entry, distance float64) perception.Headway {
	return observe(e, distance, v.self.Speed, v.s.perceived(e, v.reaction))
}

func observe(e Entry, distance, ownSpeed float64, r Record) perception.Headway {
	h := perception.NewHeadway(e.ID, perception.KindGTU, distance, ownSpeed, r.Speed)
	h.Acceleration = r.Acceleration
	h.Length = e.Length
	h.MaxSpeed = e.DesiredSpeed
	h.MaxAcceleration = e.MaxAcceleration
	h.DesireLeft = r.Desire.Left
	h.DesireRight = r.Desire.Right
	return h
}

// Leaders returns the GTUs ahead in the lane at lat. Once the current edge
// is exhausted the search follows the route edge by edge, in the lane each
// lane leads to, until look-ahead range is used up; a lane that does not
// continue ends in a lane-end object.
func (v *View) Leaders(lat perception.Lateral) perception.Iterable {
	lane := v.lane(lat)
	if !v.edge.HasLane(lane) {
		return perception.Empty
	}
	return perception.New(func() perception.Cursor { return v.leaderCursor(lane) }, v.s.opts.LookAhead)
}

func (v *View) leaderCursor(lane int) perception.Cursor {
	s := v.s
	edge := v.edge
	ids := s.lanes[laneKey{edge.ID, lane}]
	i := sort.Search(len(ids), func(k int) bool { return s.entries[ids[k]].Position >= v.self.Position })
	offset := -v.self.Position // from own front to the start of edge
	k := 0                     // next index into v.ahead
	done := false
	return func() (perception.Headway, bool) {
		for !done {
			if i < len(ids) {
				e := s.entries[ids[i]]
				i++
				if e.ID == v.self.ID {
					continue
				}
				return v.headway(e, offset+e.Position-e.Length), true
			}
			end := offset + edge.Length
			if k >= len(v.ahead) || end > s.opts.LookAhead {
				done = true
				break
			}
			next := v.ahead[k]
			k++
			mapped, ok, err := s.net.Graph.MapLane(edge.ID, lane, next.ID)
			if err != nil || !ok {
				done = true
				id := fmt.Sprintf("%s/%d/end", edge.ID, lane)
				return perception.Stationary(id, perception.KindLaneEnd, end, v.self.Speed), true
			}
			edge, lane, offset = next, mapped, end
			ids, i = s.lanes[laneKey{edge.ID, lane}], 0
		}
		return perception.Headway{}, false
	}
}

// Followers returns the GTUs behind in the lane at lat, on the current edge
// only. GTUs still on an upstream edge are not seen: which edge is upstream
// depends on their routes, not on this GTU's.
func (v *View) Followers(lat perception.Lateral) perception.Iterable {
	lane := v.lane(lat)
	if !v.edge.HasLane(lane) {
		return perception.Empty
	}
	s := v.s
	return perception.New(func() perception.Cursor {
		ids := s.lanes[laneKey{v.edge.ID, lane}]
		i := sort.Search(len(ids), func(k int) bool { return s.entries[ids[k]].Position >= v.self.Position }) - 1
		return func() (perception.Headway, bool) {
			for i >= 0 {
				e := s.entries[ids[i]]
				i--
				if e.ID == v.self.ID {
					continue
				}
				return v.headway(e, -(v.self.Position-v.self.Length-e.Position)), true
			}
			return perception.Headway{}, false
		}
	}, s.opts.LookBack)
}

// Encounters returns the conflicts ahead on the route within look-ahead
// range, nearest first.
func (v *View) Encounters() []conflict.Encounter {
	top := v.s.net.Topology
	if top.Len() == 0 {
		return nil
	}
	var out []conflict.Encounter
	add := func(edge graph.EdgeID, offset float64) {
		for _, ref := range top.OnEdge(edge) {
			d := offset + ref.Position
			if d < 0 || d > v.s.opts.LookAhead {
				continue
			}
			c := top.At(ref.Index)
			out = append(out, conflict.Encounter{
				Conflict: c,
				Side:     ref.Side,
				Distance: d,
				Others:   perception.FromSlice(v.approaching(c.Path(ref.Side.Other()))...).Within(v.s.opts.LookAhead),
			})
		}
	}
	add(v.edge.ID, -v.self.Position)
	offset := v.edge.Length - v.self.Position
	for _, e := range v.ahead {
		if offset > v.s.opts.LookAhead {
			break
		}
		add(e.ID, offset)
		offset += e.Length
	}
	return out
}

// approaching returns the GTUs that have not yet cleared point p, either on
// p's edge or on the edge just before it along their route; GTUs further
// upstream are not considered. Distances are to the conflict point.
//
// Both GTUs of a conflicting pair must judge each other on the same state, so
// the committed records are used here and the reaction time does not apply.
func (v *View) approaching(p conflict.Path) []perception.Headway {
	s := v.s
	g := s.net.Graph
	var hs []perception.Headway
	for _, i := range s.edges[p.Edge] {
		e := s.entries[i]
		if e.ID == v.self.ID || e.Position-e.Length >= p.Position {
			continue
		}
		hs = append(hs, observe(e, p.Position-e.Position, v.self.Speed, e.Record))
	}
	edge, err := g.GetEdgeByID(p.Edge)
	if err != nil {
		return hs
	}
	for _, up := range s.net.into[edge.U] {
		for _, i := range s.edges[up.ID] {
			e := s.entries[i]
			d := up.Length - e.Position + p.Position
			if e.ID == v.self.ID || up.V == e.Destination || d > s.opts.LookAhead {
				continue
			}
			next, err := g.GetNextEdge(up.V, e.Destination)
			if err != nil || next.ID != p.Edge {
				continue
			}
			hs = append(hs, observe(e, d, v.self.Speed, e.Record))
		}
	}
	return hs
}
