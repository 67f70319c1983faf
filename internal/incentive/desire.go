// Package incentive holds the lane-change incentives of the LMRS model. Each
// incentive turns a GTU's perception into a Desire to move left or right.
//
// Mandatory incentives (route) are evaluated first and summed; voluntary
// incentives (speed gain, keep right, courtesy, socio-speed) receive the
// mandatory total so they can stand aside when a mandatory change dominates.
// Incentives are pure: they never modify perception or GTU state.
package incentive

import (
	"github.com/samber/lo"

	"github.com/cxd309/gtu-engine/internal/perception"
)

// Desire is a pair of lane-change desires. Positive values express
// willingness to change in that direction, negative values reluctance.
type Desire struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// Add returns the per-direction sum of d and o.
func (d Desire) Add(o Desire) Desire {
	return Desire{Left: d.Left + o.Left, Right: d.Right + o.Right}
}

// Clamp limits both directions to [low, high].
func (d Desire) Clamp(low, high float64) Desire {
	return Desire{Left: lo.Clamp(d.Left, low, high), Right: lo.Clamp(d.Right, low, high)}
}

// Get returns the desire toward lat; Current has no desire.
func (d Desire) Get(lat perception.Lateral) float64 {
	switch lat {
	case perception.Left:
		return d.Left
	case perception.Right:
		return d.Right
	default:
		return 0
	}
}

// Max returns the larger of the two directions.
func (d Desire) Max() float64 { return max(d.Left, d.Right) }
