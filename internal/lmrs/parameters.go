package lmrs

import "fmt"

// Parameters are the LMRS thresholds and headway relaxation constants.
type Parameters struct {
	DFree float64 `json:"d_free" yaml:"d_free" validate:"gt=0"` // desire from which free lane changes happen
	DSync float64 `json:"d_sync" yaml:"d_sync" validate:"gt=0"` // desire from which a GTU synchronises with the target lane
	DCoop float64 `json:"d_coop" yaml:"d_coop" validate:"gt=0"` // desire from which voluntary desire is ignored against a mandatory one

	TMin float64 `json:"t_min" yaml:"t_min" validate:"gt=0"` // s, desired headway right after a lane change
	Tau  float64 `json:"tau" yaml:"tau" validate:"gt=0"`     // s, headway relaxation time constant

	DesireMin float64 `json:"desire_min" yaml:"desire_min" validate:"lte=0"`
	DesireMax float64 `json:"desire_max" yaml:"desire_max" validate:"gte=1"`
}

// DefaultParameters returns the LMRS calibration values.
func DefaultParameters() Parameters {
	return Parameters{
		DFree:     0.365,
		DSync:     0.577,
		DCoop:     0.788,
		TMin:      0.56,
		Tau:       25,
		DesireMin: -1,
		DesireMax: 2,
	}
}

// Validate checks the ordering between thresholds that struct tags cannot
// express.
func (p Parameters) Validate() error {
	switch {
	case p.DFree <= 0:
		return fmt.Errorf("d_free must be positive, got %v", p.DFree)
	case p.DFree > p.DSync || p.DSync > p.DCoop:
		return fmt.Errorf("thresholds must satisfy d_free <= d_sync <= d_coop, got %v, %v, %v", p.DFree, p.DSync, p.DCoop)
	case p.DCoop > p.DesireMax:
		return fmt.Errorf("d_coop (%v) exceeds desire_max (%v)", p.DCoop, p.DesireMax)
	case p.DesireMin > 0:
		return fmt.Errorf("desire_min must not be positive, got %v", p.DesireMin)
	case p.TMin <= 0 || p.Tau <= 0:
		return fmt.Errorf("t_min and tau must be positive, got %v and %v", p.TMin, p.Tau)
	}
	return nil
}
