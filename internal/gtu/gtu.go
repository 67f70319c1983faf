// Package gtu defines the vehicle, route and GTU types used by the
// simulation, along with the live per-GTU state and its log snapshot.
package gtu

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cxd309/gtu-engine/internal/carfollowing"
	"github.com/cxd309/gtu-engine/internal/graph"
	"github.com/cxd309/gtu-engine/internal/perception"
)

// ID is a unique string identifier for a GTU.
type ID = string

// State describes where a GTU is in its life cycle.
type State string

const (
	StateWaiting State = "waiting" // not yet departed
	StateDriving State = "driving"
	StateArrived State = "arrived" // reached its destination and left the network
)

// Vehicle holds the static parameters of a vehicle type.
// The longitudinal behaviour is encapsulated by the CarFollowing field; adding
// a new model only requires implementing carfollowing.Model and registering it
// in carfollowing.Factory.
type Vehicle struct {
	Name     string  `json:"name"`
	Length   float64 `json:"length"`    // metres
	MaxSpeed float64 `json:"max_speed"` // m/s
	// SpeedAdherence scales the speed limit into the driver's desired speed;
	// 1.1 means the driver aims for 10% above the limit. Zero is read as 1.
	SpeedAdherence float64 `json:"speed_adherence,omitempty"`
	// ReactionTime delays the driver's perception of other GTUs, seconds.
	ReactionTime float64 `json:"reaction_time,omitempty"`

	CarFollowing carfollowing.Model `json:"-"` // set by Decode
	rawModel     json.RawMessage
}

// vehicleJSON is the raw JSON shape of a Vehicle, before the car-following
// model is resolved.
type vehicleJSON struct {
	Name           string          `json:"name"`
	Length         float64         `json:"length"`
	MaxSpeed       float64         `json:"max_speed"`
	SpeedAdherence float64         `json:"speed_adherence,omitempty"`
	ReactionTime   float64         `json:"reaction_time,omitempty"`
	CarFollowing   json.RawMessage `json:"car_following,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler for Vehicle. The
// "car_following" object is kept raw until Resolve hands it to a
// carfollowing.Factory, so GTUs of the same type share one model instance.
func (v *Vehicle) UnmarshalJSON(data []byte) error {
	var aux vehicleJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	v.Name = aux.Name
	v.Length = aux.Length
	v.MaxSpeed = aux.MaxSpeed
	v.SpeedAdherence = aux.SpeedAdherence
	v.ReactionTime = aux.ReactionTime
	v.rawModel = aux.CarFollowing
	return nil
}

// MarshalJSON writes the vehicle back in its input shape.
func (v Vehicle) MarshalJSON() ([]byte, error) {
	return json.Marshal(vehicleJSON{
		Name:           v.Name,
		Length:         v.Length,
		MaxSpeed:       v.MaxSpeed,
		SpeedAdherence: v.SpeedAdherence,
		ReactionTime:   v.ReactionTime,
		CarFollowing:   v.rawModel,
	})
}

// Resolve validates the vehicle and builds its car-following model through f.
// A vehicle whose model was set directly keeps it.
func (v *Vehicle) Resolve(f *carfollowing.Factory) error {
	switch {
	case v.Length <= 0:
		return fmt.Errorf("vehicle %q: length must be positive, got %v", v.Name, v.Length)
	case v.MaxSpeed <= 0:
		return fmt.Errorf("vehicle %q: max_speed must be positive, got %v", v.Name, v.MaxSpeed)
	case v.SpeedAdherence < 0:
		return fmt.Errorf("vehicle %q: speed_adherence must not be negative", v.Name)
	case v.ReactionTime < 0:
		return fmt.Errorf("vehicle %q: reaction_time must not be negative", v.Name)
	}
	if v.SpeedAdherence == 0 {
		v.SpeedAdherence = 1
	}
	if v.CarFollowing != nil {
		return nil
	}
	m, err := f.Decode(v.rawModel)
	if err != nil {
		return fmt.Errorf("vehicle %q: %w", v.Name, err)
	}
	v.CarFollowing = m
	return nil
}

// DesiredSpeed returns the speed the driver aims for under speedLimit; a nil
// limit means the road imposes none.
func (v Vehicle) DesiredSpeed(speedLimit *float64) float64 {
	if speedLimit == nil {
		return v.MaxSpeed
	}
	return math.Min(v.MaxSpeed, *speedLimit*v.SpeedAdherence)
}

// Route is where a GTU travels from and to.
type Route struct {
	Origin      graph.NodeID `json:"origin"`
	Destination graph.NodeID `json:"destination"`
}

// Placement is where and how fast a GTU enters the network.
type Placement struct {
	Edge     graph.EdgeID `json:"edge"`
	Lane     int          `json:"lane"`
	Position float64      `json:"position"` // metres along edge, front of the vehicle
	Speed    float64      `json:"speed"`    // m/s
}

// GTU is the static definition of a traffic unit.
type GTU struct {
	GTUID   ID        `json:"gtu_id"`
	Route   Route     `json:"route"`
	Initial Placement `json:"initial"`
	Vehicle Vehicle   `json:"vehicle"`
	// DepartureTime is the simulation time at which the GTU enters the
	// network. Zero = immediate.
	DepartureTime float64 `json:"departure_time,omitempty"` // seconds
}

// SimGTU is a GTU enriched with live simulation state.
type SimGTU struct {
	GTU
	Position     graph.Position     `json:"position"`
	Lane         int                `json:"lane"`
	Speed        float64            `json:"speed"`        // m/s
	Acceleration float64            `json:"acceleration"` // m/s²
	LaneChange   perception.Lateral `json:"-"`
	DesireLeft   float64            `json:"desire_left"`
	DesireRight  float64            `json:"desire_right"`
	State        State              `json:"state"`
	Odometer     float64            `json:"odometer"` // metres travelled
}

// NewSimGTU creates a SimGTU from its static definition after checking the
// initial placement against g.
func NewSimGTU(def GTU, g *graph.Graph) (*SimGTU, error) {
	edge, err := g.GetEdgeByID(def.Initial.Edge)
	if err != nil {
		return nil, fmt.Errorf("gtu %q initial placement: %w", def.GTUID, err)
	}
	if !edge.HasLane(def.Initial.Lane) {
		return nil, fmt.Errorf("gtu %q: lane %d does not exist on edge %q", def.GTUID, def.Initial.Lane, edge.ID)
	}
	if def.Initial.Position < 0 || def.Initial.Position > edge.Length {
		return nil, fmt.Errorf("gtu %q: position %v outside edge %q", def.GTUID, def.Initial.Position, edge.ID)
	}
	if def.Initial.Speed < 0 {
		return nil, fmt.Errorf("gtu %q: negative initial speed", def.GTUID)
	}
	if edge.V != def.Route.Destination {
		if _, err := g.GetShortestPath(edge.V, def.Route.Destination); err != nil {
			return nil, fmt.Errorf("gtu %q route: %w", def.GTUID, err)
		}
	}
	return &SimGTU{
		GTU:      def,
		Position: graph.Position{Edge: edge.ID, DistanceAlongEdge: def.Initial.Position},
		Lane:     def.Initial.Lane,
		Speed:    def.Initial.Speed,
		State:    StateWaiting,
	}, nil
}

// Depart puts a waiting GTU on the road.
func (s *SimGTU) Depart() {
	s.State = StateDriving
}

// Arrive removes the GTU from the network.
func (s *SimGTU) Arrive() {
	s.State = StateArrived
	s.Speed = 0
	s.Acceleration = 0
	s.LaneChange = perception.Current
}

// Log is a point-in-time snapshot of a SimGTU's state.
type Log struct {
	GTUID        ID           `json:"gtu_id"`
	Edge         graph.EdgeID `json:"edge"`
	Lane         int          `json:"lane"`
	Position     float64      `json:"position"`
	Speed        float64      `json:"speed"`
	Acceleration float64      `json:"acceleration"`
	LaneChange   string       `json:"lane_change"`
	DesireLeft   float64      `json:"desire_left"`
	DesireRight  float64      `json:"desire_right"`
	State        State        `json:"state"`
}

// GetLog returns a point-in-time snapshot of the GTU state.
func (s *SimGTU) GetLog() Log {
	return Log{
		GTUID:        s.GTUID,
		Edge:         s.Position.Edge,
		Lane:         s.Lane,
		Position:     s.Position.DistanceAlongEdge,
		Speed:        s.Speed,
		Acceleration: s.Acceleration,
		LaneChange:   s.LaneChange.String(),
		DesireLeft:   s.DesireLeft,
		DesireRight:  s.DesireRight,
		State:        s.State,
	}
}
