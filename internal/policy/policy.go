package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tiger/intersection-signal-sim/api/rules"
	"github.com/tiger/intersection-signal-sim/api/scenario"
)

const (
	// MinDurationSeconds is the shortest phase a policy may schedule.
	MinDurationSeconds = 30
	// MaxDurationSeconds is the longest phase a policy may schedule.
	MaxDurationSeconds = 150
)

var (
	// ErrDurationOutOfRange rejects a decision whose duration lies outside
	// [MinDurationSeconds, MaxDurationSeconds].
	ErrDurationOutOfRange = errors.New("decision duration out of range")
	// ErrUnknownPolicy is returned for an unrecognized policy selector.
	ErrUnknownPolicy = errors.New("unknown policy")
	// ErrDecisionRejected marks a malformed or incomplete decision reply.
	ErrDecisionRejected = errors.New("decision rejected")
	// ErrNoConfigurations is returned when a policy has nothing to choose from.
	ErrNoConfigurations = errors.New("no signal configurations")
)

// Observation is the state a policy sees when the signal is due to change.
type Observation struct {
	Tick        int
	Now         scenario.Timestamp
	Current     scenario.SignalStatus
	Vehicles    []scenario.Vehicle
	Pedestrians scenario.Pedestrians
	Weather     string
	Context     *scenario.Context
}

// Decision is the next signal state and how long to hold it.
type Decision struct {
	Signal          scenario.SignalStatus
	Configuration   string
	DurationSeconds int
	Justification   string
}

// Policy selects the next signal configuration. Implementations may block
// (a delegating policy calls out to a decision service).
type Policy interface {
	Name() string
	Next(ctx context.Context, obs Observation) (Decision, error)
}

// ValidateDuration enforces the duration bound.
func ValidateDuration(seconds int) error {
	if seconds < MinDurationSeconds || seconds > MaxDurationSeconds {
		return fmt.Errorf("%w: %ds not in [%d,%d]", ErrDurationOutOfRange, seconds, MinDurationSeconds, MaxDurationSeconds)
	}
	return nil
}

// ValidateDecision rejects decisions the signal state machine must not apply.
func ValidateDecision(d Decision) error {
	if err := ValidateDuration(d.DurationSeconds); err != nil {
		return err
	}
	if strings.TrimSpace(d.Configuration) == "" {
		return fmt.Errorf("%w: configuration is required", ErrDecisionRejected)
	}
	if len(d.Signal.Lights) == 0 {
		return fmt.Errorf("%w: signal has no lights", ErrDecisionRejected)
	}
	for key, light := range d.Signal.Lights {
		if err := light.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecisionRejected, key, err)
		}
	}
	return nil
}

// Compose builds the next signal from a configuration template. Ancillary
// keys of current survive unless the template redefines them; schedule
// timestamps are left for the state machine to stamp.
func Compose(current scenario.SignalStatus, cfg rules.Configuration) scenario.SignalStatus {
	next := current.Clone()
	next.Lights = make(map[string]scenario.Light, len(cfg.Signal))
	for k, v := range cfg.Signal {
		next.Lights[k] = v
		delete(next.Extras, k)
	}
	next.LastChanged = scenario.Timestamp{}
	next.NextChange = scenario.Timestamp{}
	return next
}

// DecisionError carries the raw reply that produced a rejected decision.
type DecisionError struct {
	Policy  string
	Payload string
	Err     error
}

func (e *DecisionError) Error() string {
	if e.Payload == "" {
		return fmt.Sprintf("policy %s: %v", e.Policy, e.Err)
	}
	return fmt.Sprintf("policy %s: %v (payload: %s)", e.Policy, e.Err, truncate(e.Payload, 512))
}

func (e *DecisionError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
