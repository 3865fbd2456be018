package domain

// Hydraulic entities are loaded once per scenario from the input tables and
// are immutable afterward. Units: flows in m3/s, volumes in million m3,
// durations in hours, efficiency in MW per m3/s.

type WaterNode struct {
	ID                  string  `json:"id"`
	IsSink              bool    `json:"is_sink"`
	ConstantInflow      float64 `json:"constant_inflow"`
	ConstantConsumption float64 `json:"constant_consumption"`
}

type WaterConnection struct {
	ID         string  `json:"id"`
	FromNode   string  `json:"from_node"`
	ToNode     string  `json:"to_node"`
	MinFlow    float64 `json:"min_flow"`
	MaxFlow    float64 `json:"max_flow"`
	IsSpillway bool    `json:"is_spillway"`
}

type Reservoir struct {
	ID        string  `json:"id"`
	NodeID    string  `json:"node_id"`
	MinVolume float64 `json:"min_volume"`
	MaxVolume float64 `json:"max_volume"`
}

type HydroProject struct {
	ID           string  `json:"id"`
	ConnectionID string  `json:"connection_id"`
	LoadZone     string  `json:"load_zone"`
	Efficiency   float64 `json:"efficiency"`
	CanPump      bool    `json:"can_pump"`
	PumpCapacity float64 `json:"pump_capacity,omitempty"`
	RoundTrip    float64 `json:"round_trip_efficiency,omitempty"`
}

type Timepoint struct {
	ID          string  `json:"id"`
	Timeseries  string  `json:"timeseries"`
	DurationHrs float64 `json:"duration_hrs"`
}

// NodeFlow overrides the constant inflow/consumption of a node at one
// timepoint. Nil fields fall back to the node's constant value.
type NodeFlow struct {
	NodeID      string   `json:"node_id"`
	TimepointID string   `json:"timepoint_id"`
	Inflow      *float64 `json:"inflow,omitempty"`
	Consumption *float64 `json:"consumption,omitempty"`
}

// ReservoirTS is the per-timeseries boundary policy of a reservoir. A nil
// InitialVolume leaves the starting stock free within bounds; a nil
// FinalVolume applies the configured default policy.
type ReservoirTS struct {
	ReservoirID   string   `json:"reservoir_id"`
	Timeseries    string   `json:"timeseries"`
	InitialVolume *float64 `json:"initial_volume,omitempty"`
	FinalVolume   *float64 `json:"final_volume,omitempty"`
}

// EcoFlow raises the flow lower bound of a connection at one timepoint, for
// seasonal ecological minimums the static min_flow cannot express.
type EcoFlow struct {
	ConnectionID string  `json:"connection_id"`
	TimepointID  string  `json:"timepoint_id"`
	MinFlow      float64 `json:"min_eco_flow"`
}

type SpillPenalty struct {
	ConnectionID string  `json:"connection_id"`
	Penalty      float64 `json:"penalty"`
}

// Run is one constraint-construction (and optionally solve) pass over a
// scenario.
type Run struct {
	ID        string `json:"id"`
	Scenario  string `json:"scenario"`
	Status    string `json:"status" enum:"built,solved,checked,infeasible"`
	LPPath    string `json:"lp_path,omitempty"`
	Variables int    `json:"variables"`
	Rows      int    `json:"rows"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// ResultValue is one solved value surfaced to reporting: a flow, spill,
// volume, power or pump figure for an entity at a timepoint.
type ResultValue struct {
	RunID       string  `json:"run_id"`
	Kind        string  `json:"kind" enum:"flow,spill,volume,power,pump,pump_load"`
	EntityID    string  `json:"entity_id"`
	TimepointID string  `json:"timepoint_id"`
	Value       float64 `json:"value"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
