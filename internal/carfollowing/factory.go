package carfollowing

import (
	"encoding/json"
	"fmt"
	"sync"
)

// discriminator is the minimum JSON structure needed to read the model name.
type discriminator struct {
	Model string `json:"model"`
}

// Factory builds car-following models from JSON and hands out one shared
// instance per distinct parameter set, so populations of GTUs with the same
// vehicle type use the same model value.
//
// Safe for concurrent use.
type Factory struct {
	mu     sync.Mutex
	models map[Model]Model
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{models: make(map[Model]Model)}
}

// Decode builds a model from its JSON description. The object must contain a
// "model" discriminator key; missing parameters take the IDM defaults.
//
// Supported models:
//   - "idm": Intelligent Driver Model.
//   - "idm_plus": IDM+ (minimum of free and interaction term).
func (f *Factory) Decode(data []byte) (Model, error) {
	if len(data) == 0 {
		// an absent description gives the default model
		return f.Model(DefaultIDM())
	}
	var disc discriminator
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("reading car-following model discriminator: %w", err)
	}

	var params IDM
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parsing %s parameters: %w", disc.Model, err)
	}
	params = params.withDefaults()

	switch disc.Model {
	case IDMModelName, "":
		return f.Model(params)
	case IDMPlusModelName:
		return f.Model(IDMPlus{IDM: params})
	default:
		return nil, fmt.Errorf("unknown car-following model %q", disc.Model)
	}
}

// Model validates m and returns the shared instance equal to it.
func (f *Factory) Model(m Model) (Model, error) {
	if v, ok := m.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name(), err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if shared, ok := f.models[m]; ok {
		return shared, nil
	}
	f.models[m] = m
	return m, nil
}

// Len returns the number of distinct models handed out.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.models)
}
