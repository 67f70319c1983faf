package lmrs

import (
	"fmt"
	"math"

	"github.com/cxd309/gtu-engine/internal/incentive"
	"github.com/cxd309/gtu-engine/internal/perception"
)

// State is the tactical state a GTU carries from one decision to the next.
type State struct {
	Headway        float64 // s, relaxing desired headway
	LastLaneChange float64 // s, simulation time of the last lane change; -Inf if none
	Desire         incentive.Desire
	Acceleration   float64
	LaneChange     perception.Lateral
}

// Arena holds the tactical state of all GTUs, addressed by a stable index.
// It is read during the decide phase and written only by Commit and Fallback,
// which must not run concurrently with readers.
type Arena struct {
	index  map[string]int
	states []State
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{index: make(map[string]int)}
}

// Add registers a GTU whose regular desired headway is tMax and returns its
// index.
func (a *Arena) Add(id string, tMax float64) (int, error) {
	if _, dup := a.index[id]; dup {
		return 0, fmt.Errorf("gtu %q already in arena", id)
	}
	i := len(a.states)
	a.index[id] = i
	a.states = append(a.states, State{Headway: tMax, LastLaneChange: math.Inf(-1)})
	return i, nil
}

// Len returns the number of GTUs.
func (a *Arena) Len() int { return len(a.states) }

// State returns a copy of the state at slot i.
func (a *Arena) State(i int) State { return a.states[i] }

// Commit stores decision for slot i at time now, dt after the previous
// step. A lane change restarts the desired headway at TMin; otherwise it
// relaxes toward tMax with time constant Tau.
func (a *Arena) Commit(i int, dec Decision, now, dt, tMax float64, p Parameters) {
	s := &a.states[i]
	s.Desire = dec.Desire
	s.Acceleration = dec.Acceleration
	s.LaneChange = dec.LaneChange
	if dec.LaneChange != perception.Current {
		s.Headway = math.Min(p.TMin, tMax)
		s.LastLaneChange = now
		return
	}
	if s.Headway < tMax {
		s.Headway = math.Min(tMax, s.Headway+(tMax-s.Headway)*dt/p.Tau)
	} else {
		s.Headway = tMax
	}
}

// Fallback returns the decision used when slot i failed to decide: keep the
// previous acceleration and desire, stay in lane.
func (a *Arena) Fallback(i int) Decision {
	s := a.states[i]
	return Decision{
		Acceleration: s.Acceleration,
		LaneChange:   perception.Current,
		Desire:       s.Desire,
		Headway:      s.Headway,
	}
}
