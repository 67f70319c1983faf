package incentive

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/cxd309/gtu-engine/internal/perception"
)

// Registered incentive names.
const (
	RouteName      = "route"
	SpeedGainName  = "speed_gain"
	KeepRightName  = "keep_right"
	CourtesyName   = "courtesy"
	SocioSpeedName = "socio_speed"
)

// Route is the mandatory desire to be in a lane that continues along the
// route. Desire grows as the distance left for the required lane changes
// shrinks, in space (X0 per lane change) or in time (T0 per lane change).
type Route struct {
	X0 float64
	T0 float64
}

func (Route) Name() string { return RouteName }
func (Route) Category() Category { return Mandatory }

func (r Route) DetermineDesire(ctx Context, _ Desire) (Desire, error) {
	p := ctx.Perception
	n0, x, err := p.LaneChanges(perception.Current)
	if err != nil {
		return Desire{}, fmt.Errorf("route lane changes: %w", err)
	}
	side := func(lat perception.Lateral) (float64, error) {
		if !p.LaneExists(lat) {
			return 0, nil
		}
		n, _, err := p.LaneChanges(lat)
		if err != nil {
			return 0, fmt.Errorf("route lane changes %s: %w", lat, err)
		}
		switch {
		case n < n0:
			return r.desireToLeave(x, n0, ctx.Speed), nil
		case n > n0:
			return -r.desireToLeave(x, n, ctx.Speed), nil
		default:
			return 0, nil
		}
	}
	left, err := side(perception.Left)
	if err != nil {
		return Desire{}, err
	}
	right, err := side(perception.Right)
	if err != nil {
		return Desire{}, err
	}
	return Desire{Left: left, Right: right}, nil
}

// desireToLeave is the desire to leave a lane from which n lane changes are
// needed within distance x.
func (r Route) desireToLeave(x float64, n int, speed float64) float64 {
	if n <= 0 {
		return 0
	}
	nf := float64(n)
	d := 1 - x/(nf*r.X0)
	if speed > 0 {
		d = math.Max(d, 1-(x/speed)/(nf*r.T0))
	}
	return lo.Clamp(d, 0, 1)
}

// SpeedGain is the voluntary desire to move to a lane where the anticipated
// speed is higher. Gains to the right are not pursued, as overtaking on the
// right is not allowed; losses to the right still discourage moving there.
type SpeedGain struct {
	X0    float64
	VGain float64
}

func (SpeedGain) Name() string { return SpeedGainName }
func (SpeedGain) Category() Category { return Voluntary }

func (s SpeedGain) DetermineDesire(ctx Context, _ Desire) (Desire, error) {
	if s.VGain <= 0 {
		return Desire{}, fmt.Errorf("speed gain: v_gain must be positive, got %v", s.VGain)
	}
	p := ctx.Perception
	current := s.anticipatedSpeed(ctx.DesiredSpeed, p.Leaders(perception.Current))
	var d Desire
	if p.LaneExists(perception.Left) {
		d.Left = (s.anticipatedSpeed(ctx.DesiredSpeed, p.Leaders(perception.Left)) - current) / s.VGain
	}
	if p.LaneExists(perception.Right) {
		d.Right = math.Min(s.anticipatedSpeed(ctx.DesiredSpeed, p.Leaders(perception.Right))-current, 0) / s.VGain
	}
	return d, nil
}

// anticipatedSpeed is the speed a GTU expects to drive in a lane: leaders
// within X0 pull it toward their speed, the more so the closer they are.
func (s SpeedGain) anticipatedSpeed(desired float64, leaders perception.Iterable) float64 {
	v := desired
	for h := range leaders.Within(s.X0).All() {
		if h.Kind != perception.KindGTU {
			continue
		}
		w := lo.Clamp(h.Distance/s.X0, 0, 1)
		v = math.Min(v, h.Speed+(desired-h.Speed)*w)
	}
	return math.Max(v, 0)
}

// KeepRight is the voluntary bias toward the right lane, dropped when the
// route argues against moving right.
type KeepRight struct {
	Bias float64
}

func (KeepRight) Name() string { return KeepRightName }
func (KeepRight) Category() Category { return Voluntary }

func (k KeepRight) DetermineDesire(ctx Context, mandatory Desire) (Desire, error) {
	if !ctx.Perception.LaneExists(perception.Right) || mandatory.Right < 0 {
		return Desire{}, nil
	}
	return Desire{Right: k.Bias}, nil
}

// Courtesy is the voluntary desire to vacate the lane for GTUs in an adjacent
// lane that want to merge into it.
type Courtesy struct {
	Factor float64
	Range  float64
}

func (Courtesy) Name() string { return CourtesyName }
func (Courtesy) Category() Category { return Voluntary }

func (c Courtesy) DetermineDesire(ctx Context, _ Desire) (Desire, error) {
	p := ctx.Perception
	var d Desire
	if p.LaneExists(perception.Right) {
		d.Right = c.Factor * c.mergeDesire(p, perception.Left, func(h perception.Headway) float64 { return h.DesireRight })
	}
	if p.LaneExists(perception.Left) {
		d.Left = c.Factor * c.mergeDesire(p, perception.Right, func(h perception.Headway) float64 { return h.DesireLeft })
	}
	return d, nil
}

// mergeDesire returns the strongest desire toward our lane among GTUs near us
// in the lane at lat.
func (c Courtesy) mergeDesire(p Perceiver, lat perception.Lateral, toward func(perception.Headway) float64) float64 {
	if !p.LaneExists(lat) {
		return 0
	}
	strongest := 0.0
	for _, it := range []perception.Iterable{p.Leaders(lat), p.Followers(lat)} {
		for h := range it.Within(c.Range).All() {
			if h.Kind == perception.KindGTU {
				strongest = math.Max(strongest, toward(h))
			}
		}
	}
	return strongest
}

// SocioSpeed is the voluntary desire to let a faster follower pass by moving
// right.
type SocioSpeed struct {
	Sensitivity float64
	Range       float64
	VGain       float64
}

func (SocioSpeed) Name() string { return SocioSpeedName }
func (SocioSpeed) Category() Category { return Voluntary }

func (s SocioSpeed) DetermineDesire(ctx Context, mandatory Desire) (Desire, error) {
	p := ctx.Perception
	if !p.LaneExists(perception.Right) || mandatory.Right < 0 {
		return Desire{}, nil
	}
	follower := p.Followers(perception.Current).Within(s.Range).First()
	if follower.Kind != perception.KindGTU || follower.Speed <= ctx.Speed {
		return Desire{}, nil
	}
	if s.VGain <= 0 {
		return Desire{}, fmt.Errorf("socio speed: v_gain must be positive, got %v", s.VGain)
	}
	pressure := lo.Clamp((follower.Speed-ctx.Speed)/s.VGain, 0, 1)
	return Desire{Right: s.Sensitivity * pressure}, nil
}
