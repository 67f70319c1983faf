package conflict

import (
	"math"

	"github.com/cxd309/gtu-engine/internal/carfollowing"
	"github.com/cxd309/gtu-engine/internal/kinematics"
	"github.com/cxd309/gtu-engine/internal/perception"
)

// Encounter is an upcoming conflict on a GTU's path.
type Encounter struct {
	Conflict Conflict
	Side     Side    // side of the deciding GTU
	Distance float64 // m from the deciding GTU's front to the conflict point
	// Others are the GTUs on the other path, nearest to the conflict point
	// first. Their Distance is measured to the conflict point.
	Others perception.Iterable
}

// Outcome records what the resolver decided for one encounter.
type Outcome struct {
	ConflictID string
	Priority   Priority
	// Yield is false for GiveWay when the GTU can no longer stop in time.
	Yield bool
}

// Resolver turns conflict priorities into an acceleration cap.
type Resolver struct {
	Rule Rule
}

// NewResolver returns a Resolver applying rule.
func NewResolver(rule Rule) Resolver {
	return Resolver{Rule: rule}
}

// Priority evaluates enc for own against every other approaching GTU. Own
// gives way if it must give way to any of them.
func (r Resolver) Priority(enc Encounter, own Approach) Priority {
	if enc.Conflict.Type == Split {
		return SplitOnly
	}
	own.Distance = enc.Distance
	result := HavePriority
	for h := range enc.Others.All() {
		switch r.Rule.DeterminePriority(enc.Conflict, enc.Side, own, FromHeadway(h)) {
		case GiveWay:
			return GiveWay
		case SplitOnly:
			result = SplitOnly
		}
	}
	return result
}

// Cap returns a, lowered wherever own has to give way, together with the
// outcome of every encounter. A GTU giving way brakes for a stationary
// virtual leader at the conflict point; a GTU that can no longer stop before
// the point at comfortable deceleration carries on instead.
func (r Resolver) Cap(a float64, model carfollowing.Model, desiredSpeed float64, own Approach, encounters []Encounter) (float64, []Outcome) {
	if len(encounters) == 0 {
		return a, nil
	}
	outcomes := make([]Outcome, 0, len(encounters))
	for _, enc := range encounters {
		p := r.Priority(enc, own)
		o := Outcome{ConflictID: enc.Conflict.ID, Priority: p}
		if p == GiveWay && kinematics.CanStop(own.Speed, enc.Distance, model.ComfortableDeceleration()) {
			o.Yield = true
			stop := perception.Stationary(enc.Conflict.ID, perception.KindConflict, enc.Distance, own.Speed)
			a = math.Min(a, model.Acceleration(own.Speed, desiredSpeed, stop))
		}
		outcomes = append(outcomes, o)
	}
	return a, outcomes
}
