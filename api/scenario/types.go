package scenario

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// EmergencyStatus is the optional lights/siren sub-state of an emergency vehicle.
type EmergencyStatus struct {
	LightsOn bool `json:"lights_on"`
	SirenOn  bool `json:"siren_on"`
}

// Vehicle is one approaching vehicle. DistanceM never goes negative.
type Vehicle struct {
	ID               string           `json:"vehicle_id"`
	LaneID           string           `json:"lane_id"`
	Destination      string           `json:"destination,omitempty"`
	SpeedKMH         float64          `json:"speed_kmh"`
	DistanceM        float64          `json:"distance_to_intersection_m"`
	Type             string           `json:"vehicle_type"`
	Emergency        bool             `json:"emergency_vehicle"`
	EmergencyStatus  *EmergencyStatus `json:"emergency_status,omitempty"`
	EstimatedArrival *Timestamp       `json:"estimated_arrival_time,omitempty"`
}

// ActiveEmergency reports whether the vehicle may override right-of-way.
// When the lights/siren sub-state is reported, one of them must be on.
func (v Vehicle) ActiveEmergency() bool {
	if !v.Emergency {
		return false
	}
	if v.EmergencyStatus == nil {
		return true
	}
	return v.EmergencyStatus.LightsOn || v.EmergencyStatus.SirenOn
}

// Clone returns a copy that shares no pointers with v.
func (v Vehicle) Clone() Vehicle {
	out := v
	if v.EmergencyStatus != nil {
		status := *v.EmergencyStatus
		out.EmergencyStatus = &status
	}
	if v.EstimatedArrival != nil {
		eta := *v.EstimatedArrival
		out.EstimatedArrival = &eta
	}
	return out
}

func (v Vehicle) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("vehicle_id is required")
	}
	if strings.TrimSpace(v.LaneID) == "" {
		return fmt.Errorf("vehicle %s: lane_id is required", v.ID)
	}
	if strings.TrimSpace(v.Type) == "" {
		return fmt.Errorf("vehicle %s: vehicle_type is required", v.ID)
	}
	if v.SpeedKMH < 0 {
		return fmt.Errorf("vehicle %s: speed_kmh must be >= 0", v.ID)
	}
	if v.DistanceM < 0 {
		return fmt.Errorf("vehicle %s: distance_to_intersection_m must be >= 0", v.ID)
	}
	return nil
}

// CloneVehicles deep copies a vehicle slice.
func CloneVehicles(in []Vehicle) []Vehicle {
	out := make([]Vehicle, len(in))
	for i, v := range in {
		out[i] = v.Clone()
	}
	return out
}

const (
	CrosswalkNorthSouth = "crosswalk_north_south"
	CrosswalkEastWest   = "crosswalk_east_west"
	KeyWaitingPool      = "waiting_for_signal"
	keyPedTimestamp     = "timestamp"
	crosswalkPrefix     = "crosswalk_"
)

// Pedestrians holds per-crosswalk counts and the shared pre-crossing pool.
type Pedestrians struct {
	Crosswalks map[string]int
	Waiting    int
	Timestamp  *Timestamp
}

// Count returns the number of pedestrians on crosswalk key.
func (p Pedestrians) Count(key string) int {
	return p.Crosswalks[key]
}

// Total is the number of pedestrians not yet across.
func (p Pedestrians) Total() int {
	total := p.Waiting
	for _, n := range p.Crosswalks {
		total += n
	}
	return total
}

func (p Pedestrians) Clone() Pedestrians {
	out := Pedestrians{Waiting: p.Waiting}
	if p.Crosswalks != nil {
		out.Crosswalks = make(map[string]int, len(p.Crosswalks))
		for k, v := range p.Crosswalks {
			out.Crosswalks[k] = v
		}
	}
	if p.Timestamp != nil {
		ts := *p.Timestamp
		out.Timestamp = &ts
	}
	return out
}

func (p Pedestrians) Validate() error {
	if p.Waiting < 0 {
		return fmt.Errorf("pedestrians.%s must be >= 0", KeyWaitingPool)
	}
	for key, n := range p.Crosswalks {
		if n < 0 {
			return fmt.Errorf("pedestrians.%s must be >= 0", key)
		}
	}
	return nil
}

func (p Pedestrians) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(p.Crosswalks)+2)
	for k, v := range p.Crosswalks {
		flat[k] = v
	}
	if p.Waiting > 0 {
		flat[KeyWaitingPool] = p.Waiting
	}
	if p.Timestamp != nil {
		flat[keyPedTimestamp] = *p.Timestamp
	}
	return json.Marshal(flat)
}

func (p *Pedestrians) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("decode pedestrians: %w", err)
	}
	out := Pedestrians{Crosswalks: make(map[string]int)}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		raw := flat[key]
		switch {
		case key == keyPedTimestamp:
			var ts Timestamp
			if err := json.Unmarshal(raw, &ts); err != nil {
				return fmt.Errorf("pedestrians.timestamp: %w", err)
			}
			out.Timestamp = &ts
		case key == KeyWaitingPool:
			if err := json.Unmarshal(raw, &out.Waiting); err != nil {
				return fmt.Errorf("pedestrians.%s: %w", key, err)
			}
		case strings.HasPrefix(key, crosswalkPrefix):
			var n int
			if err := json.Unmarshal(raw, &n); err != nil {
				return fmt.Errorf("pedestrians.%s: %w", key, err)
			}
			out.Crosswalks[key] = n
		default:
			return fmt.Errorf("pedestrians: unknown key %q", key)
		}
	}
	*p = out
	return nil
}

// Context carries the optional environmental flags of a scenario.
type Context struct {
	Weather          string `json:"weather,omitempty"`
	PeakPeriod       bool   `json:"peak_period"`
	IncidentReported bool   `json:"incident_reported"`
}

// Scenario is the immutable input of one simulation run.
type Scenario struct {
	VehicleData    []Vehicle       `json:"vehicle_data"`
	Pedestrians    Pedestrians     `json:"pedestrians"`
	SignalStatus   SignalStatus    `json:"signal_status"`
	Context        *Context        `json:"context,omitempty"`
	TrafficMetrics json.RawMessage `json:"traffic_metrics,omitempty"`
}

// Weather returns the context weather string, or "" when absent.
func (s Scenario) Weather() string {
	if s.Context == nil {
		return ""
	}
	return s.Context.Weather
}

// Validate enforces the structural invariants a run depends on.
func (s Scenario) Validate() error {
	seen := make(map[string]struct{}, len(s.VehicleData))
	for _, v := range s.VehicleData {
		if err := v.Validate(); err != nil {
			return err
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("duplicate vehicle_id %s", v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	if err := s.Pedestrians.Validate(); err != nil {
		return err
	}
	if err := s.SignalStatus.Validate(); err != nil {
		return err
	}
	return nil
}
