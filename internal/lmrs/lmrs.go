// Package lmrs implements the Lane-change Model with Relaxation and
// Synchronisation: the per-GTU tactical decision that combines car following,
// lane-change incentives and conflict priority into one acceleration and lane
// change.
//
// A decision runs five phases in order:
//
//  1. collect mandatory desire (summed per direction)
//  2. collect voluntary desire, each incentive seeing the mandatory total
//  3. synthesise the total desire per direction
//  4. pick a lane-change target
//  5. scale the car-following acceleration toward the target lane
//
// after which the conflict resolver may lower the acceleration further.
// Decide reads only its arguments, so any number of GTUs may decide
// concurrently against the same Environment snapshot.
package lmrs

import (
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/cxd309/gtu-engine/internal/carfollowing"
	"github.com/cxd309/gtu-engine/internal/conflict"
	"github.com/cxd309/gtu-engine/internal/incentive"
	"github.com/cxd309/gtu-engine/internal/perception"
)

var (
	// ErrIncentive wraps an error returned by an incentive.
	ErrIncentive = errors.New("incentive failed")
	// ErrNaN is returned when a decision produces a NaN acceleration.
	ErrNaN = errors.New("acceleration is NaN")
)

// Environment is the perception of one GTU on the committed world snapshot.
type Environment interface {
	incentive.Perceiver
	// Encounters returns the conflicts ahead on the GTU's path.
	Encounters() []conflict.Encounter
}

// Agent is the deciding GTU.
type Agent struct {
	ID           string
	Speed        float64 // m/s
	DesiredSpeed float64 // m/s
	Length       float64 // m
	Model        carfollowing.Model
	Incentives   incentive.Set
	State        State
}

// Decision is the outcome of one decision.
type Decision struct {
	Acceleration float64
	LaneChange   perception.Lateral
	Desire       incentive.Desire
	Headway      float64 // s, desired time headway used
	Conflicts    []conflict.Outcome
}

// Decider runs LMRS decisions. The zero Resolver rule disables conflict
// handling.
type Decider struct {
	Params   Parameters
	Resolver conflict.Resolver
}

// Decide returns the acceleration and lane change of agent. An incentive error
// aborts the decision; the caller is expected to fall back to the agent's
// previous acceleration.
func (d Decider) Decide(agent Agent, env Environment) (Decision, error) {
	ctx := incentive.Context{
		Speed:        agent.Speed,
		DesiredSpeed: agent.DesiredSpeed,
		Model:        agent.Model,
		Perception:   env,
	}

	var mandatory incentive.Desire
	for _, inc := range agent.Incentives.Mandatory {
		dm, err := inc.DetermineDesire(ctx, mandatory)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %s: %w", ErrIncentive, inc.Name(), err)
		}
		mandatory = mandatory.Add(dm)
	}

	var voluntary incentive.Desire
	for _, inc := range agent.Incentives.Voluntary {
		dv, err := inc.DetermineDesire(ctx, mandatory)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %s: %w", ErrIncentive, inc.Name(), err)
		}
		voluntary = voluntary.Add(dv)
	}

	desire := d.synthesize(mandatory, voluntary)
	headway := d.headway(agent, desire)
	leader := env.Leaders(perception.Current).First()
	aCF := agent.Model.AccelerationWithHeadway(agent.Speed, agent.DesiredSpeed, headway, leader)

	lat := d.laneTarget(agent, env, desire, headway)
	a := d.scale(agent, env, desire, headway, aCF)

	// the committed state, exactly as the other GTUs see this one
	own := conflict.Approach{
		GTU:             agent.ID,
		Speed:           agent.Speed,
		Acceleration:    agent.State.Acceleration,
		Length:          agent.Length,
		MaxSpeed:        agent.DesiredSpeed,
		MaxAcceleration: agent.Model.MaxAcceleration(),
	}
	var outcomes []conflict.Outcome
	if d.Resolver.Rule != nil {
		a, outcomes = d.Resolver.Cap(a, agent.Model, agent.DesiredSpeed, own, env.Encounters())
	}

	if math.IsNaN(a) {
		return Decision{}, ErrNaN
	}
	return Decision{
		Acceleration: a,
		LaneChange:   lat,
		Desire:       desire,
		Headway:      headway,
		Conflicts:    outcomes,
	}, nil
}

// synthesize adds voluntary desire to mandatory desire, weighted down when a
// strong mandatory desire points the other way.
func (d Decider) synthesize(mandatory, voluntary incentive.Desire) incentive.Desire {
	return incentive.Desire{
		Left:  mandatory.Left + d.theta(mandatory.Left, voluntary.Left)*voluntary.Left,
		Right: mandatory.Right + d.theta(mandatory.Right, voluntary.Right)*voluntary.Right,
	}.Clamp(d.Params.DesireMin, d.Params.DesireMax)
}

func (d Decider) theta(dm, dv float64) float64 {
	p := d.Params
	abs := math.Abs(dm)
	switch {
	case dm*dv >= 0 || abs <= p.DSync:
		return 1
	case abs < p.DCoop:
		return (p.DCoop - abs) / (p.DCoop - p.DSync)
	default:
		return 0
	}
}

// headway returns the desired time headway: it shrinks with lane-change
// desire and never exceeds the value still relaxing from the last lane
// change.
func (d Decider) headway(agent Agent, desire incentive.Desire) float64 {
	tMax := agent.Model.DesiredHeadway()
	tMin := math.Min(d.Params.TMin, tMax)
	strength := lo.Clamp(desire.Max(), 0, 1)
	t := tMax - strength*(tMax-tMin)
	if agent.State.Headway > 0 {
		t = math.Min(t, agent.State.Headway)
	}
	return t
}

// laneTarget returns the direction to change to, or Current. Equal desires
// at or above DFree keep the lane before any gap is looked at. Otherwise a
// direction qualifies when its desire reaches DFree, the lane exists and the
// gap is acceptable, and with both qualifying the stronger desire wins.
func (d Decider) laneTarget(agent Agent, env Environment, desire incentive.Desire, headway float64) perception.Lateral {
	if desire.Left == desire.Right && desire.Left >= d.Params.DFree {
		return perception.Current
	}
	ok := func(lat perception.Lateral) bool {
		dl := desire.Get(lat)
		return dl >= d.Params.DFree && env.LaneExists(lat) && d.acceptGap(agent, env, lat, dl, headway)
	}
	left, right := ok(perception.Left), ok(perception.Right)
	switch {
	case left && right:
		if desire.Right > desire.Left {
			return perception.Right
		}
		return perception.Left
	case left:
		return perception.Left
	case right:
		return perception.Right
	default:
		return perception.Current
	}
}

// acceptGap reports whether a change to lat is safe: neither the GTU toward
// its new leader nor its new follower toward it would need to brake harder
// than b·desire. The follower is assumed to drive like the deciding GTU.
func (d Decider) acceptGap(agent Agent, env Environment, lat perception.Lateral, desire, headway float64) bool {
	m := agent.Model
	limit := -m.ComfortableDeceleration() * desire

	leader := env.Leaders(lat).First()
	if leader.Exists() {
		if leader.Distance < 0 {
			return false
		}
		if m.AccelerationWithHeadway(agent.Speed, agent.DesiredSpeed, headway, leader) < limit {
			return false
		}
	}

	follower := env.Followers(lat).First()
	if follower.Exists() {
		if follower.Distance > 0 {
			return false
		}
		us := perception.NewHeadway(agent.ID, perception.KindGTU, -follower.Distance, follower.Speed, agent.Speed)
		if m.Acceleration(follower.Speed, agent.DesiredSpeed, us) < limit {
			return false
		}
	}
	return true
}

// scale blends the car-following acceleration with the acceleration that
// synchronises with the leader in the stronger desired lane. The blend weight
// rises from 0 at DFree to 1 at DSync.
func (d Decider) scale(agent Agent, env Environment, desire incentive.Desire, headway, aCF float64) float64 {
	lat, strength := perception.Left, desire.Left
	if desire.Right > desire.Left {
		lat, strength = perception.Right, desire.Right
	}
	p := d.Params
	if p.DSync <= p.DFree {
		return aCF
	}
	w := lo.Clamp((strength-p.DFree)/(p.DSync-p.DFree), 0, 1)
	if w == 0 || !env.LaneExists(lat) {
		return aCF
	}
	leader := env.Leaders(lat).First()
	if !leader.Exists() {
		return aCF
	}
	m := agent.Model
	aSync := math.Max(m.AccelerationWithHeadway(agent.Speed, agent.DesiredSpeed, headway, leader), -m.ComfortableDeceleration())
	return (1-w)*aCF + w*math.Min(aCF, aSync)
}
