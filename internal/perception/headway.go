// Package perception defines what a GTU knows about the objects around it: the
// Headway value and the lazy, near-to-far Iterable of headways.
//
// Sign conventions used throughout the decision pipeline:
//
//   - Distance is the net gap in metres, positive ahead and negative behind.
//   - RelativeSpeed is own speed minus object speed, positive when closing in.
package perception

import "math"

// Kind classifies the perceived object.
type Kind string

const (
	KindNone     Kind = "none"
	KindGTU      Kind = "gtu"
	KindLaneEnd  Kind = "lane_end"
	KindConflict Kind = "conflict"
)

// Lateral selects a lane relative to the perceiving GTU.
type Lateral int

const (
	Current Lateral = iota
	Left
	Right
)

func (l Lateral) String() string {
	switch l {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "none"
	}
}

// Opposite returns the other side; Current maps to itself.
func (l Lateral) Opposite() Lateral {
	switch l {
	case Left:
		return Right
	case Right:
		return Left
	default:
		return Current
	}
}

// Headway is an immutable observation of one object relative to the observer.
type Headway struct {
	ID            string
	Kind          Kind
	Distance      float64 // m, net gap; negative = behind
	Speed         float64 // m/s, object speed
	RelativeSpeed float64 // m/s, observer speed minus object speed
	Acceleration  float64 // m/s², object acceleration
	Length        float64 // m, object length

	// Capabilities of a GTU object, zero when unknown.
	MaxSpeed        float64 // m/s, desired speed
	MaxAcceleration float64 // m/s²

	// Perceived lane-change desire of a GTU object; zero for other kinds.
	DesireLeft  float64
	DesireRight float64
}

// None is returned by First on an empty Iterable.
var None = Headway{Kind: KindNone, Distance: math.Inf(1)}

// NewHeadway builds a headway to an object moving at objectSpeed, observed by
// a GTU moving at ownSpeed.
func NewHeadway(id string, kind Kind, distance, ownSpeed, objectSpeed float64) Headway {
	return Headway{
		ID:            id,
		Kind:          kind,
		Distance:      distance,
		Speed:         objectSpeed,
		RelativeSpeed: ownSpeed - objectSpeed,
	}
}

// Stationary builds a headway to a standing object, such as a lane end or the
// conflict point a GTU must yield for.
func Stationary(id string, kind Kind, distance, ownSpeed float64) Headway {
	return NewHeadway(id, kind, distance, ownSpeed, 0)
}

// Exists reports whether h refers to an object.
func (h Headway) Exists() bool { return h.Kind != KindNone }

// Gap returns the absolute net distance to the object.
func (h Headway) Gap() float64 { return math.Abs(h.Distance) }
