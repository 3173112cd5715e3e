package kinematics

import (
	"math"
	"time"

	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/runtime/rightofway"
)

// Stats is the per-vehicle accounting kept from first sight until passage.
type Stats struct {
	Type        string
	FirstSeen   scenario.Timestamp
	WaitSeconds float64
	Stops       int
}

// Passage is the immutable record written once when a vehicle clears the
// stop line, or when a stall drain removes it.
type Passage struct {
	VehicleID   string             `json:"vehicle_id"`
	Type        string             `json:"vehicle_type"`
	LaneID      string             `json:"lane_id"`
	Destination string             `json:"destination,omitempty"`
	Timestamp   scenario.Timestamp `json:"timestamp"`
	WaitSeconds float64            `json:"wait_time"`
	Stops       int                `json:"stops"`
	Emergency   bool               `json:"emergency,omitempty"`
	Forced      bool               `json:"forced,omitempty"`
}

// Hold records a vehicle that reached the stop line and was refused entry.
type Hold struct {
	VehicleID string
	Verdict   rightofway.Verdict
	NewStop   bool
}

// StepResult is the outcome of one kinematics tick.
type StepResult struct {
	Remaining []scenario.Vehicle
	Passed    []Passage
	Held      []Hold
}

// Engine advances vehicles and applies right-of-way at the stop line. It is
// not safe for concurrent use; one engine belongs to one run.
type Engine struct {
	rules rightofway.Rules
	stats map[string]*Stats
}

// New returns an engine evaluating entries with rules.
func New(rules rightofway.Rules) *Engine {
	return &Engine{rules: rules, stats: make(map[string]*Stats)}
}

// Rules returns the right-of-way rules in force.
func (e *Engine) Rules() rightofway.Rules { return e.rules }

// Step moves every vehicle by speed*dt toward the stop line and resolves
// vehicles at distance zero. Input vehicles are not mutated.
func (e *Engine) Step(vehicles []scenario.Vehicle, signal scenario.SignalStatus, peds scenario.Pedestrians, now scenario.Timestamp, dt time.Duration) StepResult {
	seconds := dt.Seconds()
	result := StepResult{Remaining: make([]scenario.Vehicle, 0, len(vehicles))}

	for _, in := range vehicles {
		v := in.Clone()
		st := e.track(v, now)

		v.DistanceM = math.Max(0, v.DistanceM-v.SpeedKMH/3.6*seconds)
		if v.DistanceM > 0 {
			result.Remaining = append(result.Remaining, v)
			continue
		}

		if v.EstimatedArrival != nil && now.Before(*v.EstimatedArrival) {
			result.Remaining = append(result.Remaining, v)
			continue
		}

		verdict := e.rules.Evaluate(v, signal, peds)
		if verdict.Proceed {
			result.Passed = append(result.Passed, e.passage(v, st, now, false))
			continue
		}

		hold := Hold{VehicleID: v.ID, Verdict: verdict}
		if v.SpeedKMH > 0 {
			st.Stops++
			hold.NewStop = true
		}
		v.SpeedKMH = 0
		st.WaitSeconds += seconds
		result.Held = append(result.Held, hold)
		result.Remaining = append(result.Remaining, v)
	}
	return result
}

// Drain force-passes every vehicle, used when the run stalls.
func (e *Engine) Drain(vehicles []scenario.Vehicle, now scenario.Timestamp) []Passage {
	out := make([]Passage, 0, len(vehicles))
	for _, v := range vehicles {
		st := e.track(v, now)
		out = append(out, e.passage(v, st, now, true))
	}
	return out
}

// Stats returns a copy of the accounting for a vehicle still tracked.
func (e *Engine) Stats(vehicleID string) (Stats, bool) {
	st, ok := e.stats[vehicleID]
	if !ok {
		return Stats{}, false
	}
	return *st, true
}

func (e *Engine) track(v scenario.Vehicle, now scenario.Timestamp) *Stats {
	st, ok := e.stats[v.ID]
	if !ok {
		st = &Stats{Type: v.Type, FirstSeen: now}
		e.stats[v.ID] = st
	}
	return st
}

func (e *Engine) passage(v scenario.Vehicle, st *Stats, now scenario.Timestamp, forced bool) Passage {
	delete(e.stats, v.ID)
	return Passage{
		VehicleID:   v.ID,
		Type:        v.Type,
		LaneID:      v.LaneID,
		Destination: v.Destination,
		Timestamp:   now,
		WaitSeconds: st.WaitSeconds,
		Stops:       st.Stops,
		Emergency:   v.ActiveEmergency(),
		Forced:      forced,
	}
}

// QueueLength counts stopped vehicles within thresholdM of the stop line.
func QueueLength(vehicles []scenario.Vehicle, thresholdM float64) int {
	n := 0
	for _, v := range vehicles {
		if v.SpeedKMH == 0 && v.DistanceM < thresholdM {
			n++
		}
	}
	return n
}
