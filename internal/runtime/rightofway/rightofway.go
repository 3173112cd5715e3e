package rightofway

import (
	"fmt"
	"strings"

	"github.com/tiger/intersection-signal-sim/api/scenario"
)

// KeyMode selects which vehicle field is tested against the signal map.
type KeyMode string

const (
	// KeyLane tests the vehicle's lane id.
	KeyLane KeyMode = "lane"
	// KeyDestination tests the vehicle's declared destination movement.
	KeyDestination KeyMode = "destination"
)

// Validate enforces supported key modes.
func (m KeyMode) Validate() error {
	switch m {
	case KeyLane, KeyDestination:
		return nil
	default:
		return fmt.Errorf("unsupported key mode %q", m)
	}
}

// Turn is the movement class derived from a movement key.
type Turn string

const (
	TurnStraight Turn = "straight"
	TurnLeft     Turn = "left"
	TurnRight    Turn = "right"
)

// TurnOf classifies a movement key by its Left/Right marker.
func TurnOf(key string) Turn {
	switch {
	case strings.Contains(key, "Left"):
		return TurnLeft
	case strings.Contains(key, "Right"):
		return TurnRight
	default:
		return TurnStraight
	}
}

// Conflict names the crosswalk a left turn from an approach cuts across.
type Conflict struct {
	Approach  string
	Crosswalk string
}

// DefaultConflicts maps north/southbound lefts onto the east-west crosswalk
// and east/westbound lefts onto the north-south crosswalk.
func DefaultConflicts() []Conflict {
	return []Conflict{
		{Approach: "Northbound", Crosswalk: scenario.CrosswalkEastWest},
		{Approach: "Southbound", Crosswalk: scenario.CrosswalkEastWest},
		{Approach: "Eastbound", Crosswalk: scenario.CrosswalkNorthSouth},
		{Approach: "Westbound", Crosswalk: scenario.CrosswalkNorthSouth},
	}
}

// Reason explains a verdict.
type Reason string

const (
	ReasonPermitted Reason = "permitted"
	ReasonEmergency Reason = "emergency_override"
	ReasonSignal    Reason = "signal_prohibits"
	ReasonYield     Reason = "yield_to_pedestrians"
)

// Verdict is the outcome of one right-of-way evaluation.
type Verdict struct {
	Proceed bool
	Key     string
	Turn    Turn
	Reason  Reason
	// Crosswalk is set when the vehicle yields.
	Crosswalk string
}

// Rules evaluates whether a vehicle at the stop line may enter.
type Rules struct {
	KeyMode   KeyMode
	Conflicts []Conflict
}

// New returns rules for mode with the default conflict table.
func New(mode KeyMode) (Rules, error) {
	if err := mode.Validate(); err != nil {
		return Rules{}, err
	}
	return Rules{KeyMode: mode, Conflicts: DefaultConflicts()}, nil
}

// MovementKey is the signal key tested for v under the configured mode.
func (r Rules) MovementKey(v scenario.Vehicle) string {
	if r.KeyMode == KeyDestination {
		return v.Destination
	}
	return v.LaneID
}

// Evaluate decides right of way for v against signal and the crosswalk
// counts in peds. Emergencies bypass both signal and yield checks.
func (r Rules) Evaluate(v scenario.Vehicle, signal scenario.SignalStatus, peds scenario.Pedestrians) Verdict {
	key := r.MovementKey(v)
	verdict := Verdict{Key: key, Turn: TurnOf(key)}

	if v.ActiveEmergency() {
		verdict.Proceed = true
		verdict.Reason = ReasonEmergency
		return verdict
	}

	if !permits(verdict.Turn, signal.Light(key)) {
		verdict.Reason = ReasonSignal
		return verdict
	}

	if verdict.Turn == TurnLeft {
		if crosswalk, ok := r.conflictFor(key); ok &&
			peds.Count(crosswalk) > 0 &&
			signal.LookupFold(crosswalk).PermitsCrossing() {
			verdict.Reason = ReasonYield
			verdict.Crosswalk = crosswalk
			return verdict
		}
	}

	verdict.Proceed = true
	verdict.Reason = ReasonPermitted
	return verdict
}

func (r Rules) conflictFor(key string) (string, bool) {
	for _, c := range r.Conflicts {
		if strings.Contains(key, c.Approach) {
			return c.Crosswalk, true
		}
	}
	return "", false
}

func permits(turn Turn, light scenario.Light) bool {
	switch turn {
	case TurnStraight:
		return light == scenario.LightGreen
	default:
		return light == scenario.LightGreen || light == scenario.LightGreenArrow
	}
}
