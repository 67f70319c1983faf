// Package engine implements the GTU simulation loop.
//
// The simulation advances in fixed timesteps. Each step has three phases:
//
//  1. Snapshot - the state committed at the end of the previous step is
//     frozen into a world.Snapshot.
//
//  2. Decide - every driving GTU runs its LMRS decision against the snapshot,
//     in parallel. A GTU whose decision fails keeps its previous acceleration
//     and stays in lane. Lane changes that would put two GTUs on top of each
//     other in the same target lane are then withdrawn, all but one.
//
//  3. Commit - serially, every GTU applies its lane change, integrates its
//     motion over the timestep, moves across edges toward its destination and
//     appends its new state to its history.
package engine

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cxd309/gtu-engine/internal/carfollowing"
	"github.com/cxd309/gtu-engine/internal/config"
	"github.com/cxd309/gtu-engine/internal/conflict"
	"github.com/cxd309/gtu-engine/internal/graph"
	"github.com/cxd309/gtu-engine/internal/gtu"
	"github.com/cxd309/gtu-engine/internal/historical"
	"github.com/cxd309/gtu-engine/internal/incentive"
	"github.com/cxd309/gtu-engine/internal/kinematics"
	"github.com/cxd309/gtu-engine/internal/lmrs"
	"github.com/cxd309/gtu-engine/internal/perception"
	"github.com/cxd309/gtu-engine/internal/world"
)

var validate = validator.New()

// NewTMS constructs a TMS from a SimulationInput, building the network and
// conflict topology and placing each GTU at its initial position.
func NewTMS(input SimulationInput, opts ...Option) (*TMS, error) {
	t := &TMS{meta: input.Meta, cfg: config.Default(), logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	if err := validate.Struct(t.meta); err != nil {
		return nil, fmt.Errorf("simulation meta: %w", err)
	}
	if err := t.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if t.meta.SimulationID == "" {
		t.meta.SimulationID = uuid.NewString()
	}

	g, err := graph.NewGraph(input.GraphData)
	if err != nil {
		return nil, fmt.Errorf("building graph: %w", err)
	}
	g.Prepare()
	top, err := conflict.NewTopology(input.Conflicts, g)
	if err != nil {
		return nil, fmt.Errorf("building conflicts: %w", err)
	}
	t.net = world.NewNetwork(g, top)

	t.incentives, err = incentive.NewSet(t.cfg.Incentives.Mandatory, t.cfg.Incentives.Voluntary, t.cfg.Incentives.Parameters)
	if err != nil {
		return nil, err
	}
	rule, err := conflict.NewRule(t.cfg.Conflicts.Rule, t.cfg.Conflicts.Parameters)
	if err != nil {
		return nil, err
	}
	t.decider = lmrs.Decider{Params: t.cfg.LMRS, Resolver: conflict.NewResolver(rule)}

	models := carfollowing.NewFactory()
	clock := historical.ClockFunc(func() float64 { return t.curTime })
	t.arena = lmrs.NewArena()
	for _, def := range input.GTUs {
		if err := def.Vehicle.Resolve(models); err != nil {
			return nil, fmt.Errorf("gtu %q: %w", def.GTUID, err)
		}
		s, err := gtu.NewSimGTU(def, g)
		if err != nil {
			return nil, err
		}
		// arena slots follow the order of t.gtus
		if _, err := t.arena.Add(def.GTUID, def.Vehicle.CarFollowing.DesiredHeadway()); err != nil {
			return nil, err
		}
		t.gtus = append(t.gtus, s)
		t.history = append(t.history, historical.New[world.Record](clock))
		t.reaction = append(t.reaction, orDefault(def.Vehicle.ReactionTime, t.cfg.Perception.ReactionTime))
	}
	// histories must answer the slowest observer
	t.maxReaction = lo.Max(t.reaction)
	t.logger.Debug("simulation built",
		slog.String("simulation_id", t.meta.SimulationID),
		slog.Int("gtus", t.arena.Len()),
		slog.Int("conflicts", top.Len()),
		slog.Int("models", models.Len()),
	)
	return t, nil
}

// orDefault returns v, or fallback when v is zero.
func orDefault(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

// Meta returns the simulation meta, including a generated id.
func (t *TMS) Meta() SimulationMeta { return t.meta }

// Run executes the full simulation and returns the log. Cancelling ctx stops
// the run between steps.
func (t *TMS) Run(ctx context.Context) (SimulationLog, error) {
	ctx, span := tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.String("simulation.id", t.meta.SimulationID),
		attribute.Int("simulation.gtus", len(t.gtus)),
		attribute.Float64("simulation.run_time", t.meta.RunTime),
	))
	defer span.End()

	log := SimulationLog{Meta: t.meta}
	steps := int(math.Floor(t.meta.RunTime/t.meta.TimeStep + 1e-9))
	for k := 0; k <= steps; k++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context canceled")
			return SimulationLog{}, err
		}
		t.stepIndex = k
		t.curTime = t.timeAt(k)
		row, err := t.step(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return SimulationLog{}, fmt.Errorf("at t=%.2f: %w", t.curTime, err)
		}
		log.Output = append(log.Output, row)
	}
	span.SetStatus(codes.Ok, "")
	return log, nil
}

// timeAt returns the time of step k. All step times are computed here so
// that a record stored for the next step is found at exactly that time.
func (t *TMS) timeAt(k int) float64 { return float64(k) * t.meta.TimeStep }

// step decides and commits one timestep starting at curTime and returns the
// log row for curTime.
func (t *TMS) step(ctx context.Context) (SimulationLogRow, error) {
	start := time.Now()
	defer func() { stepDuration.Observe(time.Since(start).Seconds()) }()
	ctx, span := tracer.Start(ctx, "engine.step", trace.WithAttributes(attribute.Float64("simulation.time", t.curTime)))
	defer span.End()

	if err := t.depart(); err != nil {
		return SimulationLogRow{}, err
	}

	snap, driving, err := t.snapshot()
	if err != nil {
		return SimulationLogRow{}, err
	}
	activeGTUs.Set(float64(snap.Len()))
	span.SetAttributes(attribute.Int("simulation.driving", snap.Len()))

	decisions, err := t.decide(ctx, snap, driving)
	if err != nil {
		return SimulationLogRow{}, err
	}
	t.resolveLaneChanges(driving, decisions)

	for k, i := range driving {
		s, dec := t.gtus[i], decisions[k]
		s.Acceleration = dec.Acceleration
		s.LaneChange = dec.LaneChange
		s.DesireLeft, s.DesireRight = dec.Desire.Left, dec.Desire.Right
	}
	logs := make([]gtu.Log, len(t.gtus))
	for i, s := range t.gtus {
		logs[i] = s.GetLog()
	}
	row := SimulationLogRow{Timestamp: t.curTime, GTULogs: logs}

	for k, i := range driving {
		if err := t.commit(i, decisions[k]); err != nil {
			return SimulationLogRow{}, fmt.Errorf("gtu %q commit: %w", t.gtus[i].GTUID, err)
		}
	}
	return row, nil
}

// depart puts waiting GTUs whose departure time has come on the road. A GTU
// whose initial placement is still occupied waits for the next step.
func (t *TMS) depart() error {
	for i, s := range t.gtus {
		if s.State != gtu.StateWaiting || s.DepartureTime > t.curTime {
			continue
		}
		if blocker, ok := t.occupied(s); ok {
			t.logger.Debug("departure blocked",
				slog.String("gtu", s.GTUID),
				slog.String("by", blocker),
				slog.Float64("t", t.curTime),
			)
			continue
		}
		s.Depart()
		if err := t.history[i].Set(t.curTime, world.Record{Speed: s.Speed}); err != nil {
			return fmt.Errorf("gtu %q: %w", s.GTUID, err)
		}
		t.logger.Debug("gtu departed", slog.String("gtu", s.GTUID), slog.Float64("t", t.curTime))
	}
	return nil
}

// occupied reports the driving GTU, if any, that overlaps s in its lane.
func (t *TMS) occupied(s *gtu.SimGTU) (string, bool) {
	for _, o := range t.gtus {
		if o == s || o.State != gtu.StateDriving || o.Position.Edge != s.Position.Edge || o.Lane != s.Lane {
			continue
		}
		if overlap(o.Position.DistanceAlongEdge, o.Vehicle.Length, s.Position.DistanceAlongEdge, s.Vehicle.Length) {
			return o.GTUID, true
		}
	}
	return "", false
}

// overlap reports whether two GTUs with fronts at posA and posB on the same
// lane share any road.
func overlap(posA, lenA, posB, lenB float64) bool {
	return posA-lenA < posB && posB-lenB < posA
}

// snapshot freezes the committed state of all driving GTUs and returns their
// indices.
func (t *TMS) snapshot() (*world.Snapshot, []int, error) {
	var driving []int
	entries := make([]world.Entry, 0, len(t.gtus))
	for i, s := range t.gtus {
		if s.State != gtu.StateDriving {
			continue
		}
		driving = append(driving, i)
		rec, err := t.history[i].Get()
		if err != nil {
			return nil, nil, fmt.Errorf("gtu %q: %w", s.GTUID, err)
		}
		edge, err := t.net.Graph.GetEdgeByID(s.Position.Edge)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, world.Entry{
			ID:              s.GTUID,
			Edge:            s.Position.Edge,
			Lane:            s.Lane,
			Position:        s.Position.DistanceAlongEdge,
			Length:          s.Vehicle.Length,
			Destination:     s.Route.Destination,
			DesiredSpeed:    s.Vehicle.DesiredSpeed(edge.SpeedLimit),
			MaxAcceleration: s.Vehicle.CarFollowing.MaxAcceleration(),
			Record:          rec,
			History:         t.history[i],
		})
	}
	opts := t.cfg.Perception.Options
	snap, err := world.NewSnapshot(t.net, t.curTime, entries, opts)
	return snap, driving, err
}

// decide runs the decisions of the driving GTUs in parallel. Failed decisions
// are replaced by the arena fallback and reported after all have finished.
func (t *TMS) decide(ctx context.Context, snap *world.Snapshot, driving []int) ([]lmrs.Decision, error) {
	decisions := make([]lmrs.Decision, len(driving))
	errs := make([]error, len(driving))

	workers := t.cfg.Engine.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, i := range driving {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			decisions[k], errs[k] = t.decideOne(snap, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for k, i := range driving {
		decisionsTotal.Inc()
		if err := errs[k]; err != nil {
			decisionErrorsTotal.WithLabelValues(errorCause(err)).Inc()
			t.logger.Warn("decision failed, keeping previous acceleration",
				slog.String("gtu", t.gtus[i].GTUID),
				slog.Float64("t", t.curTime),
				slog.String("error", err.Error()),
			)
			decisions[k] = t.arena.Fallback(i)
			continue
		}
		for _, o := range decisions[k].Conflicts {
			if !o.Yield {
				continue
			}
			kind := "unknown"
			if c, err := t.net.Topology.Get(o.ConflictID); err == nil {
				kind = string(c.Type)
			}
			conflictYieldsTotal.WithLabelValues(kind).Inc()
		}
	}
	return decisions, nil
}

func (t *TMS) decideOne(snap *world.Snapshot, i int) (lmrs.Decision, error) {
	s := t.gtus[i]
	view, err := snap.View(s.GTUID, t.reaction[i])
	if err != nil {
		return lmrs.Decision{}, err
	}
	edge, err := t.net.Graph.GetEdgeByID(s.Position.Edge)
	if err != nil {
		return lmrs.Decision{}, err
	}
	agent := lmrs.Agent{
		ID:           s.GTUID,
		Speed:        s.Speed,
		DesiredSpeed: s.Vehicle.DesiredSpeed(edge.SpeedLimit),
		Length:       s.Vehicle.Length,
		Model:        s.Vehicle.CarFollowing,
		Incentives:   t.incentives,
		State:        t.arena.State(i),
	}
	return t.decider.Decide(agent, view)
}

// laneChange is a lane change that survived the decide phase, waiting to be
// checked against the others heading for the same lane.
type laneChange struct {
	k      int // index into driving and decisions
	s      *gtu.SimGTU
	desire float64
}

// resolveLaneChanges withdraws lane changes that would put a GTU on top of,
// or too close behind, another GTU changing into the same lane in the same
// step. Each GTU checked the gap against the committed snapshot only, so two
// of them may have accepted the same gap. Per target lane the stronger desire
// goes first, then the lower id.
func (t *TMS) resolveLaneChanges(driving []int, decisions []lmrs.Decision) {
	type target struct {
		edge graph.EdgeID
		lane int
	}
	byTarget := make(map[target][]laneChange)
	for k, i := range driving {
		dec := decisions[k]
		if dec.LaneChange == perception.Current {
			continue
		}
		s := t.gtus[i]
		lane := targetLane(s.Lane, dec.LaneChange)
		key := target{s.Position.Edge, lane}
		byTarget[key] = append(byTarget[key], laneChange{k: k, s: s, desire: dec.Desire.Get(dec.LaneChange)})
	}
	for _, changes := range byTarget {
		if len(changes) < 2 {
			continue
		}
		slices.SortFunc(changes, func(a, b laneChange) int {
			return cmp.Or(cmp.Compare(b.desire, a.desire), cmp.Compare(a.s.GTUID, b.s.GTUID))
		})
		var accepted []*gtu.SimGTU
		for _, c := range changes {
			if blocker, ok := t.tooClose(c.s, accepted); ok {
				decisions[c.k].LaneChange = perception.Current
				laneChangesWithdrawnTotal.Inc()
				t.logger.Debug("lane change withdrawn",
					slog.String("gtu", c.s.GTUID),
					slog.String("for", blocker),
					slog.Float64("t", t.curTime),
				)
				continue
			}
			accepted = append(accepted, c.s)
		}
	}
}

// tooClose returns the GTU in others that s would overlap, or follow closer
// than its model accepts without braking harder than comfortable.
func (t *TMS) tooClose(s *gtu.SimGTU, others []*gtu.SimGTU) (string, bool) {
	for _, o := range others {
		front, rear := o, s
		if s.Position.DistanceAlongEdge > o.Position.DistanceAlongEdge {
			front, rear = s, o
		}
		gap := front.Position.DistanceAlongEdge - front.Vehicle.Length - rear.Position.DistanceAlongEdge
		if gap < 0 {
			return o.GTUID, true
		}
		edge, err := t.net.Graph.GetEdgeByID(rear.Position.Edge)
		if err != nil {
			return o.GTUID, true
		}
		m := rear.Vehicle.CarFollowing
		leader := perception.NewHeadway(front.GTUID, perception.KindGTU, gap, rear.Speed, front.Speed)
		if m.Acceleration(rear.Speed, rear.Vehicle.DesiredSpeed(edge.SpeedLimit), leader) < -m.ComfortableDeceleration() {
			return o.GTUID, true
		}
	}
	return "", false
}

func targetLane(lane int, lat perception.Lateral) int {
	switch lat {
	case perception.Left:
		return lane + 1
	case perception.Right:
		return lane - 1
	default:
		return lane
	}
}

func errorCause(err error) string {
	switch {
	case errors.Is(err, lmrs.ErrIncentive):
		return "incentive"
	case errors.Is(err, lmrs.ErrNaN):
		return "nan"
	default:
		return "perception"
	}
}

// commit applies dec to GTU i and advances it to the end of the timestep.
func (t *TMS) commit(i int, dec lmrs.Decision) error {
	s := t.gtus[i]
	dt := t.meta.TimeStep
	next := t.timeAt(t.stepIndex + 1)

	edge, err := t.net.Graph.GetEdgeByID(s.Position.Edge)
	if err != nil {
		return err
	}
	if dec.LaneChange != perception.Current {
		lane := targetLane(s.Lane, dec.LaneChange)
		if edge.HasLane(lane) {
			s.Lane = lane
			laneChangesTotal.WithLabelValues(dec.LaneChange.String()).Inc()
			t.logger.Debug("lane change",
				slog.String("gtu", s.GTUID),
				slog.String("direction", dec.LaneChange.String()),
				slog.Int("lane", lane),
				slog.Float64("t", t.curTime),
			)
		} else {
			dec.LaneChange = perception.Current
		}
	}
	t.arena.Commit(i, dec, t.curTime, dt, s.Vehicle.CarFollowing.DesiredHeadway(), t.cfg.LMRS)

	dist, v := kinematics.Step(s.Speed, dec.Acceleration, dt)
	s.Speed = v
	s.Odometer += dist
	arrived, err := t.advance(s, dist)
	if err != nil {
		return err
	}
	if arrived {
		s.Arrive()
		arrivalsTotal.Inc()
		t.logger.Debug("gtu arrived", slog.String("gtu", s.GTUID), slog.Float64("t", next))
		return nil
	}

	h := t.history[i]
	if err := h.Set(next, world.Record{Speed: s.Speed, Acceleration: dec.Acceleration, Desire: dec.Desire}); err != nil {
		return err
	}
	h.Cleanup(next - t.maxReaction)
	return nil
}

// advance moves s along its route by dist metres, carrying its lane across
// nodes. Returns true if s reached its destination.
func (t *TMS) advance(s *gtu.SimGTU, dist float64) (bool, error) {
	g := t.net.Graph
	for {
		edge, err := g.GetEdgeByID(s.Position.Edge)
		if err != nil {
			return false, err
		}
		remaining := edge.Length - s.Position.DistanceAlongEdge
		if dist < remaining {
			s.Position.DistanceAlongEdge += dist
			return false, nil
		}
		dist -= remaining

		if edge.V == s.Route.Destination {
			s.Position.DistanceAlongEdge = edge.Length
			return true, nil
		}
		nextEdge, err := g.GetNextEdge(edge.V, s.Route.Destination)
		if err != nil {
			return false, fmt.Errorf("advancing past edge %q: %w", edge.ID, err)
		}
		lane, ok, err := g.MapLane(edge.ID, s.Lane, nextEdge.ID)
		if err != nil {
			return false, err
		}
		if !ok {
			t.logger.Debug("lane does not continue, merged into nearest",
				slog.String("gtu", s.GTUID),
				slog.String("edge", edge.ID),
				slog.Int("lane", s.Lane),
			)
		}
		s.Lane = lane
		s.Position = graph.Position{Edge: nextEdge.ID, DistanceAlongEdge: 0}
	}
}

// RunJSON is the primary entry point for all compilation targets (CLI, WASM).
// It accepts a JSON-encoded SimulationInput, runs the simulation with the
// default configuration, and returns a JSON-encoded SimulationLog.
func RunJSON(jsonInput string) (string, error) {
	return RunJSONContext(context.Background(), jsonInput)
}

// RunJSONContext is RunJSON with a context and engine options.
func RunJSONContext(ctx context.Context, jsonInput string, opts ...Option) (string, error) {
	var input SimulationInput
	if err := json.Unmarshal([]byte(jsonInput), &input); err != nil {
		return "", fmt.Errorf("invalid input JSON: %w", err)
	}

	tms, err := NewTMS(input, opts...)
	if err != nil {
		return "", err
	}

	simLog, err := tms.Run(ctx)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(simLog)
	if err != nil {
		return "", fmt.Errorf("marshaling output: %w", err)
	}
	return string(out), nil
}
