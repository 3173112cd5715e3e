package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Light is a signal value for one movement or crosswalk key.
type Light string

const (
	LightRed        Light = "red"
	LightGreen      Light = "green"
	LightGreenArrow Light = "green_arrow"
	LightWalk       Light = "walk"
)

// Validate enforces supported light values.
func (l Light) Validate() error {
	switch l {
	case LightRed, LightGreen, LightGreenArrow, LightWalk:
		return nil
	default:
		return fmt.Errorf("unsupported light value: %q", l)
	}
}

// PermitsCrossing reports whether a crosswalk showing l lets pedestrians cross.
// Upstream plans spell the crosswalk cross phase either walk or green.
func (l Light) PermitsCrossing() bool {
	return l == LightWalk || l == LightGreen
}

const (
	KeyLastChanged     = "last_changed"
	KeyNextTimestamp   = "next_timestamp"
	KeyDurationSeconds = "duration_seconds"
	KeyWeatherData     = "weather_data"
	KeyContextData     = "context_data"
)

// IsSignalKey reports whether key names a movement or crosswalk, the keys
// whose values must be lights.
func IsSignalKey(key string) bool {
	for _, prefix := range []string{"Northbound_", "Southbound_", "Eastbound_", "Westbound_"} {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return len(key) > len("crosswalk_") && strings.EqualFold(key[:len("crosswalk_")], "crosswalk_")
}

// SignalStatus is the live light assignment plus its schedule. Keys that are
// neither lights nor schedule timestamps are carried in Extras untouched.
type SignalStatus struct {
	Lights      map[string]Light
	LastChanged Timestamp
	NextChange  Timestamp
	Extras      map[string]json.RawMessage
}

// Light returns the light for key, or "" when the key is not signalled.
func (s SignalStatus) Light(key string) Light {
	return s.Lights[key]
}

// LookupFold returns the light for key, falling back to a case-insensitive
// match. Crosswalk keys are spelled both crosswalk_x and Crosswalk_X.
func (s SignalStatus) LookupFold(key string) Light {
	if light, ok := s.Lights[key]; ok {
		return light
	}
	for k, light := range s.Lights {
		if strings.EqualFold(k, key) {
			return light
		}
	}
	return ""
}

// Keys returns the signalled keys in sorted order.
func (s SignalStatus) Keys() []string {
	keys := make([]string, 0, len(s.Lights))
	for k := range s.Lights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (s SignalStatus) Clone() SignalStatus {
	out := SignalStatus{
		LastChanged: s.LastChanged,
		NextChange:  s.NextChange,
	}
	if s.Lights != nil {
		out.Lights = make(map[string]Light, len(s.Lights))
		for k, v := range s.Lights {
			out.Lights[k] = v
		}
	}
	if s.Extras != nil {
		out.Extras = make(map[string]json.RawMessage, len(s.Extras))
		for k, v := range s.Extras {
			out.Extras[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// SetExtra stores an ancillary value under key.
func (s *SignalStatus) SetExtra(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode signal extra %s: %w", key, err)
	}
	if s.Extras == nil {
		s.Extras = make(map[string]json.RawMessage)
	}
	s.Extras[key] = raw
	return nil
}

// Extra decodes the ancillary value under key into target.
func (s SignalStatus) Extra(key string, target any) (bool, error) {
	raw, ok := s.Extras[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return true, fmt.Errorf("decode signal extra %s: %w", key, err)
	}
	return true, nil
}

// Validate checks the light values and the schedule ordering.
func (s SignalStatus) Validate() error {
	if len(s.Lights) == 0 {
		return fmt.Errorf("signal_status must assign at least one light")
	}
	for key, light := range s.Lights {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("signal_status contains an empty key")
		}
		if err := light.Validate(); err != nil {
			return fmt.Errorf("signal_status[%s]: %w", key, err)
		}
	}
	if s.LastChanged.IsZero() || s.NextChange.IsZero() {
		return fmt.Errorf("signal_status requires %s and %s", KeyLastChanged, KeyNextTimestamp)
	}
	if s.NextChange.Before(s.LastChanged) {
		return fmt.Errorf("signal_status %s precedes %s", KeyNextTimestamp, KeyLastChanged)
	}
	return nil
}

// MarshalJSON flattens lights, schedule and extras into one object.
func (s SignalStatus) MarshalJSON() ([]byte, error) {
	flat := make(map[string]json.RawMessage, len(s.Lights)+len(s.Extras)+2)
	for k, v := range s.Extras {
		flat[k] = v
	}
	for k, v := range s.Lights {
		raw, err := json.Marshal(string(v))
		if err != nil {
			return nil, err
		}
		flat[k] = raw
	}
	for key, ts := range map[string]Timestamp{KeyLastChanged: s.LastChanged, KeyNextTimestamp: s.NextChange} {
		if ts.IsZero() {
			continue
		}
		raw, err := json.Marshal(ts)
		if err != nil {
			return nil, err
		}
		flat[key] = raw
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits a flat signal object. Movement and crosswalk keys must
// carry a valid light. Other string values that are valid lights become
// lights; everything else except the schedule is an extra.
func (s *SignalStatus) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("decode signal_status: %w", err)
	}
	out := SignalStatus{Lights: make(map[string]Light, len(flat))}
	for key, raw := range flat {
		switch key {
		case KeyLastChanged:
			if err := json.Unmarshal(raw, &out.LastChanged); err != nil {
				return fmt.Errorf("signal_status.%s: %w", key, err)
			}
			continue
		case KeyNextTimestamp:
			if err := json.Unmarshal(raw, &out.NextChange); err != nil {
				return fmt.Errorf("signal_status.%s: %w", key, err)
			}
			continue
		}
		trimmed := bytes.TrimSpace(raw)
		if IsSignalKey(key) {
			var value string
			if err := json.Unmarshal(trimmed, &value); err != nil {
				return fmt.Errorf("signal_status.%s: light must be a string: %w", key, err)
			}
			if err := Light(value).Validate(); err != nil {
				return fmt.Errorf("signal_status.%s: %w", key, err)
			}
			out.Lights[key] = Light(value)
			continue
		}
		if len(trimmed) > 0 && trimmed[0] == '"' {
			var value string
			if err := json.Unmarshal(trimmed, &value); err == nil && Light(value).Validate() == nil {
				out.Lights[key] = Light(value)
				continue
			}
		}
		if out.Extras == nil {
			out.Extras = make(map[string]json.RawMessage)
		}
		out.Extras[key] = append(json.RawMessage(nil), trimmed...)
	}
	*s = out
	return nil
}
