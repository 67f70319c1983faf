package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("gtu-engine/engine")

var (
	decisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtu_decisions_total",
		Help: "Tactical decisions taken",
	})

	// Labels: "incentive", "nan", "perception"
	decisionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtu_decision_errors_total",
		Help: "Decisions that failed and fell back to the previous acceleration, by cause",
	}, []string{"cause"})

	laneChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtu_lane_changes_total",
		Help: "Lane changes executed, by direction",
	}, []string{"direction"})

	laneChangesWithdrawnTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtu_lane_changes_withdrawn_total",
		Help: "Lane changes cancelled because another GTU took the same gap",
	})

	// Labels: conflict type
	conflictYieldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtu_conflict_yields_total",
		Help: "Decisions in which a GTU gave way at a conflict, by conflict type",
	}, []string{"type"})

	arrivalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gtu_arrivals_total",
		Help: "GTUs that reached their destination",
	})

	activeGTUs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gtu_active",
		Help: "GTUs currently driving",
	})

	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gtu_step_duration_seconds",
		Help:    "Wall-clock duration of one simulation step",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	})
)
