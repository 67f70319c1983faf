package conflict

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/cxd309/gtu-engine/internal/kinematics"
	"github.com/cxd309/gtu-engine/internal/perception"
)

// ErrUnknownRule is returned for a rule name that is not registered.
var ErrUnknownRule = errors.New("unknown conflict rule")

// Approach describes a GTU heading for a conflict point.
type Approach struct {
	GTU          string
	Distance     float64 // m from the GTU's front to the conflict point; negative once past it
	Speed        float64 // m/s
	Acceleration float64 // m/s², assumed constant until the point is cleared
	Length       float64 // m
	MaxSpeed     float64 // m/s; zero means unbounded
	// MaxAcceleration bounds how soon the GTU could reach the point; zero
	// means it will not accelerate beyond Acceleration.
	MaxAcceleration float64 // m/s²
}

// FromHeadway reads an approach from a perceived GTU whose Distance is
// measured to the conflict point.
func FromHeadway(h perception.Headway) Approach {
	return Approach{
		GTU:             h.ID,
		Distance:        h.Distance,
		Speed:           h.Speed,
		Acceleration:    h.Acceleration,
		Length:          h.Length,
		MaxSpeed:        h.MaxSpeed,
		MaxAcceleration: h.MaxAcceleration,
	}
}

// earliest returns when the front could reach the conflict point if the GTU
// pulled away at full acceleration. A standing GTU that can accelerate is
// never treated as arriving at +Inf.
func (a Approach) earliest() float64 {
	return kinematics.TimeToCover(a.Distance, a.Speed, math.Max(a.Acceleration, a.MaxAcceleration), a.vMax())
}

// clearance returns when the rear has passed the conflict point.
func (a Approach) clearance() float64 {
	return kinematics.TimeToCover(a.Distance+a.Length, a.Speed, a.Acceleration, a.vMax())
}

// occupies reports whether the GTU is on the conflict point right now.
func (a Approach) occupies() bool {
	return a.Distance < 0 && a.Distance+a.Length > 0
}

// cleared reports whether the GTU has fully passed the conflict point.
func (a Approach) cleared() bool {
	return a.Distance+a.Length <= 0
}

func (a Approach) vMax() float64 {
	if a.MaxSpeed <= 0 {
		return math.Inf(1)
	}
	return math.Max(a.MaxSpeed, a.Speed)
}

// Rule decides the priority of own over other at conflict c, where own
// approaches on side. Rules are stateless and shared between goroutines.
type Rule interface {
	Name() string
	DeterminePriority(c Conflict, side Side, own, other Approach) Priority
}

// Rule names.
const (
	SplitRuleName    = "split"
	GapRuleName      = "gap"
	PriorityRuleName = "priority"
)

// Parameters configures the built-in rules.
type Parameters struct {
	SafetyMargin float64 `json:"safety_margin" yaml:"safety_margin" validate:"gte=0"` // s between one GTU clearing and the other arriving
	MergeMargin  float64 `json:"merge_margin" yaml:"merge_margin" validate:"gte=0"`   // s added at merges
}

// DefaultParameters returns the default rule margins.
func DefaultParameters() Parameters {
	return Parameters{SafetyMargin: 2, MergeMargin: 1}
}

var rules = map[string]func(Parameters) Rule{
	SplitRuleName:    func(Parameters) Rule { return SplitRule{} },
	GapRuleName:      func(p Parameters) Rule { return GapRule{SafetyMargin: p.SafetyMargin, MergeMargin: p.MergeMargin} },
	PriorityRuleName: func(p Parameters) Rule { return PriorityRule{Gap: GapRule{SafetyMargin: p.SafetyMargin, MergeMargin: p.MergeMargin}} },
}

// RuleNames returns the registered rule names in sorted order.
func RuleNames() []string {
	names := lo.Keys(rules)
	slices.Sort(names)
	return names
}

// NewRule builds the registered rule called name.
func NewRule(name string, p Parameters) (Rule, error) {
	build, ok := rules[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownRule, name, RuleNames())
	}
	return build(p), nil
}

// SplitRule never yields. On its own it only suits networks without crossings
// or merges.
type SplitRule struct{}

func (SplitRule) Name() string { return SplitRuleName }

func (SplitRule) DeterminePriority(Conflict, Side, Approach, Approach) Priority {
	return SplitOnly
}

// GapRule gives way unless own or other can pass the conflict point with a
// safety margin before the other one could get there at full acceleration.
// When neither fits, the GTU that could arrive first goes, and equal arrivals
// go to the lower GTU id. Both GTUs of a pair are evaluated on the same
// committed state, so exactly one of them yields.
type GapRule struct {
	SafetyMargin float64
	MergeMargin  float64
}

func (GapRule) Name() string { return GapRuleName }

func (r GapRule) DeterminePriority(c Conflict, _ Side, own, other Approach) Priority {
	if c.Type == Split {
		return SplitOnly
	}
	switch r.passing(c, own, other) {
	case ownFirst, otherFirst:
		return HavePriority
	case yield:
		return GiveWay
	}
	ownArrival, otherArrival := own.earliest(), other.earliest()
	switch {
	case ownArrival < otherArrival:
		return HavePriority
	case ownArrival > otherArrival:
		return GiveWay
	case own.GTU < other.GTU:
		return HavePriority
	default:
		return GiveWay
	}
}

type order int

const (
	undecided order = iota
	ownFirst
	otherFirst
	yield
)

func (r GapRule) margin(c Conflict) float64 {
	if c.Type == Merge {
		return r.SafetyMargin + r.MergeMargin
	}
	return r.SafetyMargin
}

// passing classifies the order in which own and other can pass the conflict
// point.
func (r GapRule) passing(c Conflict, own, other Approach) order {
	switch {
	case other.cleared():
		return otherFirst
	case other.occupies():
		return yield
	case own.occupies() || own.cleared():
		return ownFirst
	}
	m := r.margin(c)
	if own.clearance()+m <= other.earliest() {
		return ownFirst
	}
	if other.clearance()+m <= own.earliest() {
		return otherFirst
	}
	return undecided
}

// PriorityRule applies a static major/minor relation: the major side never
// yields, the minor side only goes when the gap rule finds a safe gap. A
// conflict without a major side falls back to the gap rule entirely.
type PriorityRule struct {
	Gap GapRule
}

func (PriorityRule) Name() string { return PriorityRuleName }

func (r PriorityRule) DeterminePriority(c Conflict, side Side, own, other Approach) Priority {
	if c.Type == Split {
		return SplitOnly
	}
	switch c.Major {
	case SideNone:
		return r.Gap.DeterminePriority(c, side, own, other)
	case side:
		return HavePriority
	}
	switch r.Gap.passing(c, own, other) {
	case ownFirst, otherFirst:
		return HavePriority
	default:
		return GiveWay
	}
}
