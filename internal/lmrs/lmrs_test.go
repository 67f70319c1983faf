package lmrs

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/gtu-engine/internal/carfollowing"
	"github.com/cxd309/gtu-engine/internal/conflict"
	"github.com/cxd309/gtu-engine/internal/incentive"
	"github.com/cxd309/gtu-engine/internal/perception"
)

type fixed struct {
	name string
	cat  incentive.Category
	d    incentive.Desire
	err  error
	seen *incentive.Desire
}

func (f fixed) Name() string { return f.name }
func (f fixed) Category() incentive.Category { return f.cat }

func (f fixed) DetermineDesire(_ incentive.Context, mandatory incentive.Desire) (incentive.Desire, error) {
	if f.seen != nil {
		*f.seen = mandatory
	}
	return f.d, f.err
}

type fakeEnv struct {
	leaders    map[perception.Lateral][]perception.Headway
	followers  map[perception.Lateral][]perception.Headway
	lanes      map[perception.Lateral]bool
	encounters []conflict.Encounter
}

func (e fakeEnv) Leaders(lat perception.Lateral) perception.Iterable {
	return perception.FromSlice(e.leaders[lat]...)
}

func (e fakeEnv) Followers(lat perception.Lateral) perception.Iterable {
	return perception.FromSlice(e.followers[lat]...)
}

func (e fakeEnv) LaneExists(lat perception.Lateral) bool {
	return lat == perception.Current || e.lanes[lat]
}

func (e fakeEnv) LaneChanges(perception.Lateral) (int, float64, error) { return 0, 0, nil }

func (e fakeEnv) Encounters() []conflict.Encounter { return e.encounters }

func bothLanes() map[perception.Lateral]bool {
	return map[perception.Lateral]bool{perception.Left: true, perception.Right: true}
}

func newAgent(speed, desired float64, mandatory, voluntary []incentive.Incentive) Agent {
	m := carfollowing.DefaultIDM()
	return Agent{
		ID:           "ego",
		Speed:        speed,
		DesiredSpeed: desired,
		Length:       4,
		Model:        m,
		Incentives:   incentive.Set{Mandatory: mandatory, Voluntary: voluntary},
		State:        State{Headway: m.T, LastLaneChange: math.Inf(-1)},
	}
}

func decider() Decider {
	return Decider{Params: DefaultParameters()}
}

func TestDecide_ZeroDesireIsCarFollowing(t *testing.T) {
	agent := newAgent(20, 30, nil, nil)
	leader := perception.NewHeadway("l", perception.KindGTU, 40, 20, 18)
	env := fakeEnv{leaders: map[perception.Lateral][]perception.Headway{perception.Current: {leader}}, lanes: bothLanes()}

	dec, err := decider().Decide(agent, env)
	require.NoError(t, err)
	assert.Equal(t, agent.Model.Acceleration(20, 30, leader), dec.Acceleration)
	assert.Equal(t, perception.Current, dec.LaneChange)
	assert.Zero(t, dec.Desire)
	assert.Equal(t, agent.Model.DesiredHeadway(), dec.Headway)
}

func TestDecide_EmptyRoadAccelerates(t *testing.T) {
	dec, err := decider().Decide(newAgent(25, 30, nil, nil), fakeEnv{})
	require.NoError(t, err)
	assert.Positive(t, dec.Acceleration)
	assert.Equal(t, perception.Current, dec.LaneChange)
}

func TestDecide_StoppedLeaderBrakesHard(t *testing.T) {
	agent := newAgent(20, 30, nil, nil)
	env := fakeEnv{leaders: map[perception.Lateral][]perception.Headway{
		perception.Current: {perception.Stationary("l", perception.KindGTU, 5, 20)},
	}}
	dec, err := decider().Decide(agent, env)
	require.NoError(t, err)
	assert.Less(t, dec.Acceleration, -agent.Model.ComfortableDeceleration())
}

func TestDecide_EqualDesireKeepsLane(t *testing.T) {
	agent := newAgent(20, 30, []incentive.Incentive{
		fixed{name: "m", cat: incentive.Mandatory, d: incentive.Desire{Left: 0.8, Right: 0.8}},
	}, nil)
	tests := []struct {
		name string
		env  fakeEnv
	}{
		{"both gaps acceptable", fakeEnv{lanes: bothLanes()}},
		{"right gap rejected", fakeEnv{
			lanes:   bothLanes(),
			leaders: map[perception.Lateral][]perception.Headway{perception.Right: {perception.NewHeadway("r", perception.KindGTU, -1, 20, 20)}},
		}},
		{"only left lane exists", fakeEnv{lanes: map[perception.Lateral]bool{perception.Left: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := decider().Decide(agent, tt.env)
			require.NoError(t, err)
			assert.Equal(t, perception.Current, dec.LaneChange)
		})
	}
}

func TestDecide_MandatoryDominates(t *testing.T) {
	var seen incentive.Desire
	agent := newAgent(20, 30,
		[]incentive.Incentive{fixed{name: "route", cat: incentive.Mandatory, d: incentive.Desire{Left: 2}}},
		[]incentive.Incentive{fixed{name: "keep", cat: incentive.Voluntary, d: incentive.Desire{Right: 0.3}, seen: &seen}},
	)
	dec, err := decider().Decide(agent, fakeEnv{lanes: bothLanes()})
	require.NoError(t, err)
	assert.Equal(t, perception.Left, dec.LaneChange)
	assert.Equal(t, incentive.Desire{Left: 2, Right: 0.3}, dec.Desire)
	assert.Equal(t, incentive.Desire{Left: 2}, seen, "voluntary incentives see the mandatory total")
}

func TestDecide_MandatorySummedAndClamped(t *testing.T) {
	agent := newAgent(20, 30, []incentive.Incentive{
		fixed{name: "a", cat: incentive.Mandatory, d: incentive.Desire{Left: 1.5, Right: -0.7}},
		fixed{name: "b", cat: incentive.Mandatory, d: incentive.Desire{Left: 1.5, Right: -0.7}},
	}, nil)
	dec, err := decider().Decide(agent, fakeEnv{lanes: bothLanes()})
	require.NoError(t, err)
	assert.Equal(t, incentive.Desire{Left: 2, Right: -1}, dec.Desire)
}

func TestDecide_IncentiveErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	agent := newAgent(20, 30, nil, []incentive.Incentive{
		fixed{name: "broken", cat: incentive.Voluntary, err: boom},
	})
	_, err := decider().Decide(agent, fakeEnv{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncentive)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "broken")
}

type nanModel struct{ carfollowing.IDM }

func (nanModel) AccelerationWithHeadway(float64, float64, float64, perception.Headway) float64 {
	return math.NaN()
}

func TestDecide_NaNIsAnError(t *testing.T) {
	agent := newAgent(20, 30, nil, nil)
	agent.Model = nanModel{carfollowing.DefaultIDM()}
	_, err := decider().Decide(agent, fakeEnv{})
	assert.ErrorIs(t, err, ErrNaN)
}

func TestDecide_GapRejected(t *testing.T) {
	mandatoryLeft := []incentive.Incentive{fixed{name: "route", cat: incentive.Mandatory, d: incentive.Desire{Left: 0.6}}}

	t.Run("fast follower close behind", func(t *testing.T) {
		env := fakeEnv{lanes: bothLanes(), followers: map[perception.Lateral][]perception.Headway{
			perception.Left: {perception.NewHeadway("f", perception.KindGTU, -3, 20, 30)},
		}}
		dec, err := decider().Decide(newAgent(20, 30, mandatoryLeft, nil), env)
		require.NoError(t, err)
		assert.Equal(t, perception.Current, dec.LaneChange)
	})

	t.Run("overlapping leader", func(t *testing.T) {
		env := fakeEnv{lanes: bothLanes(), leaders: map[perception.Lateral][]perception.Headway{
			perception.Left: {perception.NewHeadway("l", perception.KindGTU, -1, 20, 20)},
		}}
		dec, err := decider().Decide(newAgent(20, 30, mandatoryLeft, nil), env)
		require.NoError(t, err)
		assert.Equal(t, perception.Current, dec.LaneChange)
	})

	t.Run("free lane accepted", func(t *testing.T) {
		env := fakeEnv{lanes: bothLanes(), followers: map[perception.Lateral][]perception.Headway{
			perception.Left: {perception.NewHeadway("f", perception.KindGTU, -80, 20, 20)},
		}}
		dec, err := decider().Decide(newAgent(20, 30, mandatoryLeft, nil), env)
		require.NoError(t, err)
		assert.Equal(t, perception.Left, dec.LaneChange)
	})

	t.Run("no lane", func(t *testing.T) {
		dec, err := decider().Decide(newAgent(20, 30, mandatoryLeft, nil), fakeEnv{})
		require.NoError(t, err)
		assert.Equal(t, perception.Current, dec.LaneChange)
	})
}

func TestDecide_SynchronisesWithTargetLane(t *testing.T) {
	p := DefaultParameters()
	slowLeft := perception.NewHeadway("l", perception.KindGTU, 15, 20, 10)
	env := fakeEnv{lanes: bothLanes(), leaders: map[perception.Lateral][]perception.Headway{perception.Left: {slowLeft}}}

	accel := func(d float64) float64 {
		agent := newAgent(20, 30, []incentive.Incentive{
			fixed{name: "m", cat: incentive.Mandatory, d: incentive.Desire{Left: d}},
		}, nil)
		dec, err := decider().Decide(agent, env)
		require.NoError(t, err)
		return dec.Acceleration
	}

	below := accel(p.DFree - 0.01)
	mid := accel((p.DFree + p.DSync) / 2)
	full := accel(p.DSync)
	assert.Greater(t, below, mid)
	assert.Greater(t, mid, full)
	assert.GreaterOrEqual(t, full, -carfollowing.DefaultIDM().ComfortableDeceleration()-1e-9)
}

func TestTheta(t *testing.T) {
	d := decider()
	p := d.Params
	assert.Equal(t, 1.0, d.theta(1, 0.5), "same sign")
	assert.Equal(t, 1.0, d.theta(-p.DSync, 0.5), "weak opposing mandatory")
	assert.InDelta(t, 0.5, d.theta(-(p.DSync+p.DCoop)/2, 0.5), 1e-12)
	assert.Zero(t, d.theta(-p.DCoop, 0.5))
	assert.Zero(t, d.theta(-1, 0.5))
}

func TestHeadwayShrinksWithDesire(t *testing.T) {
	d := decider()
	agent := newAgent(20, 30, nil, nil)
	tMax := agent.Model.DesiredHeadway()

	assert.Equal(t, tMax, d.headway(agent, incentive.Desire{}))
	assert.InDelta(t, d.Params.TMin, d.headway(agent, incentive.Desire{Left: 1.5}), 1e-12)
	assert.InDelta(t, tMax-0.5*(tMax-d.Params.TMin), d.headway(agent, incentive.Desire{Right: 0.5}), 1e-12)

	agent.State.Headway = 0.7
	assert.Equal(t, 0.7, d.headway(agent, incentive.Desire{}))
}

func TestDecide_GivesWayAtConflict(t *testing.T) {
	d := decider()
	d.Resolver = conflict.NewResolver(conflict.GapRule{SafetyMargin: 2})
	other := perception.NewHeadway("a", perception.KindGTU, 25, 0, 10)
	other.Length = 4
	env := fakeEnv{encounters: []conflict.Encounter{{
		Conflict: conflict.Conflict{ID: "c", Type: conflict.Crossing},
		Side:     conflict.SideB,
		Distance: 40,
		Others:   perception.FromSlice(other),
	}}}

	agent := newAgent(10, 15, nil, nil)
	free, err := decider().Decide(agent, env)
	require.NoError(t, err)
	dec, err := d.Decide(agent, env)
	require.NoError(t, err)
	require.Len(t, dec.Conflicts, 1)
	assert.Equal(t, conflict.GiveWay, dec.Conflicts[0].Priority)
	assert.Less(t, dec.Acceleration, free.Acceleration)
}

func TestDecide_StandingPairAtConflict(t *testing.T) {
	d := decider()
	d.Resolver = conflict.NewResolver(conflict.GapRule{SafetyMargin: 2})
	standing := func(id string, distance float64) fakeEnv {
		other := perception.Stationary(id, perception.KindGTU, distance, 0)
		other.Length = 4
		other.MaxSpeed = 15
		other.MaxAcceleration = 1.25
		return fakeEnv{encounters: []conflict.Encounter{{
			Conflict: conflict.Conflict{ID: "c", Type: conflict.Crossing},
			Side:     conflict.SideA,
			Distance: 6,
			Others:   perception.FromSlice(other),
		}}}
	}
	agent := newAgent(0, 15, nil, nil)

	dec, err := d.Decide(agent, standing("z", 8))
	require.NoError(t, err)
	assert.Equal(t, conflict.HavePriority, dec.Conflicts[0].Priority, "closer to the point")
	assert.Positive(t, dec.Acceleration)

	dec, err = d.Decide(agent, standing("a", 6))
	require.NoError(t, err)
	assert.Equal(t, conflict.GiveWay, dec.Conflicts[0].Priority, "equal reach goes to the lower id")
	assert.True(t, dec.Conflicts[0].Yield)
}

func TestArena(t *testing.T) {
	p := DefaultParameters()
	a := NewArena()
	i, err := a.Add("g1", 1.2)
	require.NoError(t, err)
	_, err = a.Add("g1", 1.2)
	assert.Error(t, err)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1.2, a.State(i).Headway)

	a.Commit(i, Decision{Acceleration: 0.8, LaneChange: perception.Left, Desire: incentive.Desire{Left: 1}}, 10, 0.5, 1.2, p)
	s := a.State(i)
	assert.Equal(t, p.TMin, s.Headway)
	assert.Equal(t, 10.0, s.LastLaneChange)

	prev := s.Headway
	for step := 1; step <= 300; step++ {
		a.Commit(i, Decision{Acceleration: 0.1}, 10+float64(step)*0.5, 0.5, 1.2, p)
		h := a.State(i).Headway
		assert.GreaterOrEqual(t, h, prev)
		assert.LessOrEqual(t, h, 1.2)
		prev = h
	}
	assert.InDelta(t, 1.2, prev, 0.01)

	fb := a.Fallback(i)
	assert.Equal(t, 0.1, fb.Acceleration)
	assert.Equal(t, perception.Current, fb.LaneChange)
}

func TestParameters_Validate(t *testing.T) {
	require.NoError(t, DefaultParameters().Validate())

	p := DefaultParameters()
	p.DSync = 0.2
	assert.ErrorContains(t, p.Validate(), "d_free <= d_sync")

	p = DefaultParameters()
	p.DesireMax = 0.5
	assert.ErrorContains(t, p.Validate(), "desire_max")
}
