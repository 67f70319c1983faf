// Package kinematics integrates GTU motion over a timestep and answers the
// braking-distance questions the decision pipeline asks.
//
// All distance values are in metres, speeds in m/s, accelerations in m/s² and
// time in seconds.
package kinematics

import "math"

// Step advances a GTU at speed v with constant acceleration a over dt seconds.
// A decelerating GTU that reaches standstill mid-step stays stopped for the
// remainder instead of reversing.
// Returns (distance travelled, new speed).
func Step(v, a, dt float64) (dist, newV float64) {
	if dt <= 0 {
		return 0, v
	}
	if a >= 0 || v+a*dt > 0 {
		newV = v + a*dt
		return math.Max(0, v*dt+0.5*a*dt*dt), math.Max(0, newV)
	}
	if v <= 0 {
		return 0, 0
	}
	// Reaches standstill mid-step: brake, then hold.
	tStop := v / -a
	return v*tStop + 0.5*a*tStop*tStop, 0
}

// BrakingDistance returns the distance needed to stop from v at deceleration
// b (positive).
func BrakingDistance(v, b float64) float64 {
	if b <= 0 {
		return math.Inf(1)
	}
	return (v * v) / (2 * b)
}

// CanStop reports whether a GTU at speed v can stop within dist at
// deceleration b.
func CanStop(v, dist, b float64) bool {
	return BrakingDistance(v, b) <= dist
}

// TimeToCover returns the time a GTU at speed v with acceleration a, capped
// at vMax, needs to travel dist. It returns +Inf if the distance is never
// covered (standing still or stopping short).
func TimeToCover(dist, v, a, vMax float64) float64 {
	if dist <= 0 {
		return 0
	}
	if a <= 0 || v >= vMax {
		if v <= 0 {
			return math.Inf(1)
		}
		if a < 0 && BrakingDistance(v, -a) < dist {
			return math.Inf(1)
		}
		if a >= 0 {
			return dist / v
		}
		// dist = v·t + a·t²/2, earliest root
		return (-v + math.Sqrt(v*v+2*a*dist)) / a
	}
	tMax := (vMax - v) / a
	dMax := v*tMax + 0.5*a*tMax*tMax
	if dist <= dMax {
		return (-v + math.Sqrt(v*v+2*a*dist)) / a
	}
	return tMax + (dist-dMax)/vMax
}
