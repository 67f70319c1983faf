package engine

import (
	"log/slog"

	"github.com/cxd309/gtu-engine/internal/config"
	"github.com/cxd309/gtu-engine/internal/conflict"
	"github.com/cxd309/gtu-engine/internal/graph"
	"github.com/cxd309/gtu-engine/internal/gtu"
	"github.com/cxd309/gtu-engine/internal/historical"
	"github.com/cxd309/gtu-engine/internal/incentive"
	"github.com/cxd309/gtu-engine/internal/lmrs"
	"github.com/cxd309/gtu-engine/internal/world"
)

// SimulationMeta holds the identity and timing parameters for a simulation run.
type SimulationMeta struct {
	SimulationID string  `json:"simulation_id"`
	RunTime      float64 `json:"run_time" validate:"gte=0"`  // seconds
	TimeStep     float64 `json:"time_step" validate:"gt=0"` // seconds
}

// SimulationInput is the JSON-serialisable input to the engine.
type SimulationInput struct {
	Meta      SimulationMeta      `json:"simulation_meta"`
	GraphData graph.GraphData     `json:"graph_data"`
	Conflicts []conflict.Conflict `json:"conflicts,omitempty"`
	GTUs      []gtu.GTU           `json:"gtus"`
}

// SimulationLogRow is the state of all GTUs at a single simulation timestep,
// together with the decision each driving GTU took at that time.
type SimulationLogRow struct {
	Timestamp float64   `json:"timestamp"` // seconds
	GTULogs   []gtu.Log `json:"gtu_logs"`
}

// SimulationLog is the complete output of a simulation run.
type SimulationLog struct {
	Meta   SimulationMeta     `json:"simulation_meta"`
	Output []SimulationLogRow `json:"output"`
}

// Option configures a TMS.
type Option func(*TMS)

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(t *TMS) { t.logger = l }
}

// WithConfig replaces the default configuration.
func WithConfig(c config.Config) Option {
	return func(t *TMS) { t.cfg = c }
}

// TMS simulation engine state.
type TMS struct {
	meta   SimulationMeta
	cfg    config.Config
	logger *slog.Logger

	net         *world.Network
	gtus        []*gtu.SimGTU
	history     []*historical.Historical[world.Record]
	reaction    []float64 // s, per GTU
	maxReaction float64   // s, how far back any GTU reads another's history
	arena       *lmrs.Arena
	incentives  incentive.Set
	decider     lmrs.Decider
	stepIndex   int
	curTime     float64
}
