package kinematics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStep(t *testing.T) {
	tests := []struct {
		name            string
		v, a, dt        float64
		wantDist, wantV float64
	}{
		{"cruise", 10, 0, 0.5, 5, 10},
		{"accelerate", 10, 2, 1, 11, 12},
		{"brake", 10, -2, 1, 9, 8},
		{"stop mid-step", 2, -4, 1, 0.5, 0},
		{"standing brake", 0, -3, 1, 0, 0},
		{"zero dt", 7, 3, 0, 0, 7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dist, v := Step(tc.v, tc.a, tc.dt)
			assert.InDelta(t, tc.wantDist, dist, 1e-9)
			assert.InDelta(t, tc.wantV, v, 1e-9)
		})
	}
}

func TestBrakingDistance(t *testing.T) {
	assert.InDelta(t, 25.0, BrakingDistance(10, 2), 1e-9)
	assert.True(t, math.IsInf(BrakingDistance(10, 0), 1))
	assert.True(t, CanStop(10, 25, 2))
	assert.False(t, CanStop(10, 24, 2))
}

func TestTimeToCover(t *testing.T) {
	assert.InDelta(t, 2.0, TimeToCover(20, 10, 0, 30), 1e-9)
	assert.Zero(t, TimeToCover(0, 0, 0, 30))
	assert.True(t, math.IsInf(TimeToCover(10, 0, 0, 30), 1))
	assert.True(t, math.IsInf(TimeToCover(100, 10, -2, 30), 1), "stops after 25 m")
	// from standstill at 2 m/s²: 16 m takes 4 s
	assert.InDelta(t, 4.0, TimeToCover(16, 0, 2, 30), 1e-9)
	// reaches 10 m/s after 5 s and 25 m, then 10 m more at 10 m/s
	assert.InDelta(t, 6.0, TimeToCover(35, 0, 2, 10), 1e-9)
}
