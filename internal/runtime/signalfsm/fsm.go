package signalfsm

import (
	"time"

	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/policy"
)

// Change is one applied signal transition.
type Change struct {
	Sequence        int
	At              scenario.Timestamp
	Until           scenario.Timestamp
	Configuration   string
	DurationSeconds int
	Justification   string
	Signal          scenario.SignalStatus
}

// FSM holds the live signal and its schedule. There is no terminal state; a
// run ends from outside.
type FSM struct {
	current     scenario.SignalStatus
	nextChange  scenario.Timestamp
	transitions int
	lastConfig  string
	lastReason  string
}

// New starts from the scenario's signal and its next_timestamp.
func New(initial scenario.SignalStatus) *FSM {
	return &FSM{current: initial.Clone(), nextChange: initial.NextChange}
}

// Current returns a copy of the live signal.
func (f *FSM) Current() scenario.SignalStatus { return f.current.Clone() }

// NextChange is the scheduled time of the next policy invocation.
func (f *FSM) NextChange() scenario.Timestamp { return f.nextChange }

// Transitions counts applied decisions.
func (f *FSM) Transitions() int { return f.transitions }

// Configuration is the name of the last applied configuration, empty before
// the first change.
func (f *FSM) Configuration() string { return f.lastConfig }

// Justification is the reason given for the last applied configuration.
func (f *FSM) Justification() string { return f.lastReason }

// Due reports whether the schedule has been reached at now.
func (f *FSM) Due(now scenario.Timestamp) bool {
	return !now.Before(f.nextChange)
}

// Apply validates d and replaces the live signal wholesale, stamping
// last_changed=now and next_timestamp=now+duration. A rejected decision
// leaves the state untouched.
func (f *FSM) Apply(d policy.Decision, now scenario.Timestamp) (Change, error) {
	if err := policy.ValidateDecision(d); err != nil {
		return Change{}, err
	}

	next := d.Signal.Clone()
	next.LastChanged = now
	next.NextChange = now.Add(time.Duration(d.DurationSeconds) * time.Second)
	if err := next.SetExtra(scenario.KeyDurationSeconds, d.DurationSeconds); err != nil {
		return Change{}, err
	}

	f.current = next
	f.nextChange = next.NextChange
	f.transitions++
	f.lastConfig = d.Configuration
	f.lastReason = d.Justification

	return Change{
		Sequence:        f.transitions,
		At:              now,
		Until:           next.NextChange,
		Configuration:   d.Configuration,
		DurationSeconds: d.DurationSeconds,
		Justification:   d.Justification,
		Signal:          next.Clone(),
	}, nil
}
