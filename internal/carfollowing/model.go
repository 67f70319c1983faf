// Package carfollowing defines the longitudinal Model contract every
// car-following implementation must satisfy, along with the IDM family and a
// Factory that shares model instances between GTUs with equal parameters.
//
// Adding a new model only requires implementing Model and registering it in
// the Factory discriminator; the decision pipeline never needs to change.
package carfollowing

import "github.com/cxd309/gtu-engine/internal/perception"

// Model computes a GTU's desired longitudinal acceleration. All distances are
// in metres, speeds in m/s, times in seconds and accelerations in m/s².
//
// Implementations are stateless: identical inputs always give identical
// output, so one instance may be shared by any number of GTUs and goroutines.
type Model interface {
	// Name returns the JSON discriminator of the model.
	Name() string

	// Acceleration returns the acceleration toward desiredSpeed while following
	// leader, using the model's own desired time headway. A leader that does
	// not exist (perception.None) leaves only the free-flow term; a leader at
	// a zero or negative distance overlaps the GTU and calls for full braking.
	Acceleration(speed, desiredSpeed float64, leader perception.Headway) float64

	// AccelerationWithHeadway is Acceleration with an explicit desired time
	// headway, used for lane-change relaxation.
	AccelerationWithHeadway(speed, desiredSpeed, headway float64, leader perception.Headway) float64

	// DesiredHeadway returns the model's regular desired time headway.
	DesiredHeadway() float64

	// MaxAcceleration returns the maximum acceleration the model produces.
	MaxAcceleration() float64

	// ComfortableDeceleration returns the comfortable deceleration (positive).
	ComfortableDeceleration() float64
}
