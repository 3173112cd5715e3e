package simulation

import (
	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/metrics"
	"github.com/tiger/intersection-signal-sim/internal/runtime/kinematics"
)

// Termination names why a run stopped.
type Termination string

const (
	TerminationComplete Termination = "complete"
	TerminationMaxSteps Termination = "max_steps"
	TerminationStall    Termination = "stall"
)

// InitialReasoning labels the snapshot taken before the first tick.
const InitialReasoning = "Initial signal status"

// Snapshot is the state recorded at the end of one tick.
type Snapshot struct {
	Tick              int                   `json:"tick"`
	Timestamp         scenario.Timestamp    `json:"timestamp"`
	Signal            scenario.SignalStatus `json:"signal_status"`
	Configuration     string                `json:"configuration,omitempty"`
	Reasoning         string                `json:"reasoning"`
	Vehicles          []scenario.Vehicle    `json:"vehicles"`
	Pedestrians       scenario.Pedestrians  `json:"pedestrians"`
	QueueLength       int                   `json:"queue_length"`
	PassedVehicles    int                   `json:"passed_vehicles_count"`
	PassedPedestrians int                   `json:"passed_pedestrians_count"`
}

// DecisionRecord is one applied policy decision.
type DecisionRecord struct {
	Tick            int                `json:"tick"`
	At              scenario.Timestamp `json:"at"`
	Until           scenario.Timestamp `json:"until"`
	Configuration   string             `json:"configuration"`
	DurationSeconds int                `json:"duration_seconds"`
	Justification   string             `json:"justification"`
	LatencyMS       int64              `json:"latency_ms"`
}

// Result is the bundle of a finished run.
type Result struct {
	RunID             string               `json:"run_id"`
	Scenario          string               `json:"scenario,omitempty"`
	Policy            string               `json:"policy"`
	Termination       Termination          `json:"termination"`
	Steps             int                  `json:"steps"`
	Trace             []Snapshot           `json:"trace"`
	Passages          []kinematics.Passage `json:"passages"`
	PassedPedestrians int                  `json:"passed_pedestrians"`
	QueueLengths      []int                `json:"queue_lengths"`
	Decisions         []DecisionRecord     `json:"decisions"`
	RemainingVehicles int                  `json:"remaining_vehicles"`
	Metrics           metrics.Metrics      `json:"metrics"`
}

// MetricsInput projects the result onto the aggregator's input.
func (r Result) MetricsInput() metrics.Input {
	ts := make([]scenario.Timestamp, len(r.Trace))
	for i, s := range r.Trace {
		ts[i] = s.Timestamp
	}
	return metrics.Input{
		Timestamps:        ts,
		Passages:          r.Passages,
		PassedPedestrians: r.PassedPedestrians,
		QueueLengths:      r.QueueLengths,
	}
}
