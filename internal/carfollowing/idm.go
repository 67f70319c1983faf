package carfollowing

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/cxd309/gtu-engine/internal/perception"
)

// JSON discriminator strings for the IDM family.
const (
	IDMModelName     = "idm"
	IDMPlusModelName = "idm_plus"
)

// minimumGap is the smallest net gap used in the interaction term. Anything
// closer, including a leader overlapping the GTU, is treated as this gap so
// the term stays finite and the model brakes at BMax.
const minimumGap = 1e-3

// minimumDesiredSpeed guards the free-flow ratio against a zero desired speed.
const minimumDesiredSpeed = 1e-6

// IDM implements the Intelligent Driver Model.
//
//	a = A·(1 − (v/v0)^δ − (s*/s)²)
//	s* = s0 + max(0, v·T + v·Δv / (2·√(A·B)))
//
// JSON discriminator: "model": "idm"
type IDM struct {
	A     float64 `json:"a"`     // maximum acceleration, m/s²
	B     float64 `json:"b"`     // comfortable deceleration, m/s² (positive)
	BMax  float64 `json:"b_max"` // maximum deceleration, m/s² (positive); caps braking
	S0    float64 `json:"s0"`    // stopping distance, m
	T     float64 `json:"t"`     // desired time headway, s
	Delta float64 `json:"delta"` // free-flow exponent
}

// DefaultIDM returns commonly used IDM parameters for passenger cars.
func DefaultIDM() IDM {
	return IDM{A: 1.25, B: 2.09, BMax: 8, S0: 3, T: 1.2, Delta: 4}
}

func (m IDM) Name() string { return IDMModelName }
func (m IDM) DesiredHeadway() float64 { return m.T }
func (m IDM) MaxAcceleration() float64 { return m.A }
func (m IDM) ComfortableDeceleration() float64 { return m.B }

func (m IDM) Acceleration(speed, desiredSpeed float64, leader perception.Headway) float64 {
	return m.AccelerationWithHeadway(speed, desiredSpeed, m.T, leader)
}

func (m IDM) AccelerationWithHeadway(speed, desiredSpeed, headway float64, leader perception.Headway) float64 {
	free := freeTerm(speed, desiredSpeed, m.Delta)
	if !leader.Exists() {
		return m.clamp(m.A * free)
	}
	return m.clamp(m.A * (free - interactionTerm(m, speed, headway, leader)))
}

func (m IDM) clamp(a float64) float64 {
	return lo.Clamp(a, -m.BMax, m.A)
}

// Validate reports parameters that would make the model degenerate.
func (m IDM) Validate() error {
	switch {
	case m.A <= 0:
		return fmt.Errorf("a must be positive, got %v", m.A)
	case m.B <= 0:
		return fmt.Errorf("b must be positive, got %v", m.B)
	case m.BMax < m.B:
		return fmt.Errorf("b_max (%v) must be at least b (%v)", m.BMax, m.B)
	case m.S0 < 0:
		return fmt.Errorf("s0 must not be negative, got %v", m.S0)
	case m.T <= 0:
		return fmt.Errorf("t must be positive, got %v", m.T)
	case m.Delta <= 0:
		return fmt.Errorf("delta must be positive, got %v", m.Delta)
	}
	return nil
}

// withDefaults fills zero-valued parameters from DefaultIDM.
func (m IDM) withDefaults() IDM {
	d := DefaultIDM()
	m.A = lo.CoalesceOrEmpty(m.A, d.A)
	m.B = lo.CoalesceOrEmpty(m.B, d.B)
	m.S0 = lo.CoalesceOrEmpty(m.S0, d.S0)
	m.T = lo.CoalesceOrEmpty(m.T, d.T)
	m.Delta = lo.CoalesceOrEmpty(m.Delta, d.Delta)
	m.BMax = lo.CoalesceOrEmpty(m.BMax, math.Max(d.BMax, m.B))
	return m
}

// IDMPlus implements IDM+, which takes the minimum of the free-flow and the
// interaction term instead of their sum. It reaches higher capacity than IDM
// while keeping the same parameters.
//
// JSON discriminator: "model": "idm_plus"
type IDMPlus struct {
	IDM
}

func (m IDMPlus) Name() string { return IDMPlusModelName }

func (m IDMPlus) Acceleration(speed, desiredSpeed float64, leader perception.Headway) float64 {
	return m.AccelerationWithHeadway(speed, desiredSpeed, m.T, leader)
}

func (m IDMPlus) AccelerationWithHeadway(speed, desiredSpeed, headway float64, leader perception.Headway) float64 {
	free := freeTerm(speed, desiredSpeed, m.Delta)
	if !leader.Exists() {
		return m.clamp(m.A * free)
	}
	return m.clamp(m.A * math.Min(free, 1-interactionTerm(m.IDM, speed, headway, leader)))
}

// freeTerm returns 1 − (v/v0)^δ, which is zero at the desired speed.
func freeTerm(speed, desiredSpeed, delta float64) float64 {
	if desiredSpeed < minimumDesiredSpeed {
		if speed > 0 {
			return -1
		}
		return 0
	}
	return 1 - math.Pow(speed/desiredSpeed, delta)
}

// interactionTerm returns (s*/s)² for the given leader.
func interactionTerm(m IDM, speed, headway float64, leader perception.Headway) float64 {
	s := math.Max(leader.Distance, minimumGap)
	dynamic := speed*headway + speed*leader.RelativeSpeed/(2*math.Sqrt(m.A*m.B))
	sStar := m.S0 + math.Max(0, dynamic)
	r := sStar / s
	return r * r
}
