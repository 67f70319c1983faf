package incentive

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/cxd309/gtu-engine/internal/carfollowing"
	"github.com/cxd309/gtu-engine/internal/perception"
)

// ErrUnknownIncentive is returned for an incentive name that is not registered.
var ErrUnknownIncentive = errors.New("unknown incentive")

// Category distinguishes mandatory from voluntary incentives.
type Category string

const (
	Mandatory Category = "mandatory"
	Voluntary Category = "voluntary"
)

// Perceiver is the read-only view of the surroundings an incentive may use.
type Perceiver interface {
	// Leaders returns objects ahead in the lane at lat, nearest first.
	Leaders(lat perception.Lateral) perception.Iterable
	// Followers returns objects behind in the lane at lat, nearest first.
	Followers(lat perception.Lateral) perception.Iterable
	// LaneExists reports whether there is a lane at lat the GTU may enter.
	LaneExists(lat perception.Lateral) bool
	// LaneChanges returns how many lane changes a GTU in the lane at lat still
	// needs to follow its route, and the distance left to make them.
	LaneChanges(lat perception.Lateral) (n int, distance float64, err error)
}

// Context is everything an incentive knows about the deciding GTU.
type Context struct {
	Speed        float64 // m/s
	DesiredSpeed float64 // m/s
	Model        carfollowing.Model
	Perception   Perceiver
}

// Incentive produces a lane-change desire.
type Incentive interface {
	Name() string
	Category() Category
	// DetermineDesire returns this incentive's desire given the summed desire
	// of the mandatory incentives evaluated so far.
	DetermineDesire(ctx Context, mandatory Desire) (Desire, error)
}

// Parameters configures the built-in incentives.
type Parameters struct {
	X0               float64 `json:"x0" yaml:"x0" validate:"gt=0"`                               // m, route and anticipation look-ahead
	T0               float64 `json:"t0" yaml:"t0" validate:"gt=0"`                               // s, route look-ahead time
	VGain            float64 `json:"v_gain" yaml:"v_gain" validate:"gt=0"`                       // m/s, speed gain giving desire 1
	KeepRightBias    float64 `json:"keep_right_bias" yaml:"keep_right_bias" validate:"gte=0"`    // desire to keep right
	CourtesyFactor   float64 `json:"courtesy_factor" yaml:"courtesy_factor" validate:"gte=0"`    // share of a merging GTU's desire
	CourtesyRange    float64 `json:"courtesy_range" yaml:"courtesy_range" validate:"gte=0"`      // m
	SocioSensitivity float64 `json:"socio_sensitivity" yaml:"socio_sensitivity" validate:"gte=0"` // desire under full pressure
	SocioRange       float64 `json:"socio_range" yaml:"socio_range" validate:"gte=0"`            // m
}

// DefaultParameters returns the LMRS calibration values.
func DefaultParameters() Parameters {
	return Parameters{
		X0:               295,
		T0:               43,
		VGain:            69.6 / 3.6,
		KeepRightBias:    0.365,
		CourtesyFactor:   1,
		CourtesyRange:    50,
		SocioSensitivity: 0.5,
		SocioRange:       100,
	}
}

var registry = map[string]func(Parameters) Incentive{
	RouteName:      func(p Parameters) Incentive { return Route{X0: p.X0, T0: p.T0} },
	SpeedGainName:  func(p Parameters) Incentive { return SpeedGain{X0: p.X0, VGain: p.VGain} },
	KeepRightName:  func(p Parameters) Incentive { return KeepRight{Bias: p.KeepRightBias} },
	CourtesyName:   func(p Parameters) Incentive { return Courtesy{Factor: p.CourtesyFactor, Range: p.CourtesyRange} },
	SocioSpeedName: func(p Parameters) Incentive { return SocioSpeed{Sensitivity: p.SocioSensitivity, Range: p.SocioRange, VGain: p.VGain} },
}

// Names returns the registered incentive names in sorted order.
func Names() []string {
	names := lo.Keys(registry)
	slices.Sort(names)
	return names
}

// Lookup builds the registered incentive called name.
func Lookup(name string, p Parameters) (Incentive, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownIncentive, name, Names())
	}
	return build(p), nil
}

// Set is the ordered collection of incentives one GTU evaluates.
type Set struct {
	Mandatory []Incentive
	Voluntary []Incentive
}

// NewSet builds a Set from registered names. Every incentive must be listed
// under its own category and only once.
func NewSet(mandatory, voluntary []string, p Parameters) (Set, error) {
	var s Set
	seen := make(map[string]bool)
	add := func(names []string, want Category, into *[]Incentive) error {
		for _, name := range names {
			if seen[name] {
				return fmt.Errorf("incentive %q listed twice", name)
			}
			seen[name] = true
			inc, err := Lookup(name, p)
			if err != nil {
				return err
			}
			if inc.Category() != want {
				return fmt.Errorf("incentive %q is %s, listed as %s", name, inc.Category(), want)
			}
			*into = append(*into, inc)
		}
		return nil
	}
	if err := add(mandatory, Mandatory, &s.Mandatory); err != nil {
		return Set{}, err
	}
	if err := add(voluntary, Voluntary, &s.Voluntary); err != nil {
		return Set{}, err
	}
	return s, nil
}

// Len returns the number of incentives in the set.
func (s Set) Len() int { return len(s.Mandatory) + len(s.Voluntary) }
