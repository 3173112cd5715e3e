package signalfsm

import (
	"errors"
	"testing"

	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/policy"
)

func initial() scenario.SignalStatus {
	return scenario.SignalStatus{
		Lights:      map[string]scenario.Light{"Northbound_Straight": scenario.LightGreen},
		LastChanged: scenario.MustParseTimestamp("2026-03-01T08:00:00"),
		NextChange:  scenario.MustParseTimestamp("2026-03-01T08:00:30"),
	}
}

func TestDueFollowsSchedule(t *testing.T) {
	t.Parallel()

	f := New(initial())
	if f.Due(scenario.MustParseTimestamp("2026-03-01T08:00:25")) {
		t.Fatalf("not due before next_timestamp")
	}
	if !f.Due(scenario.MustParseTimestamp("2026-03-01T08:00:30")) {
		t.Fatalf("due exactly at next_timestamp")
	}
	if !f.Due(scenario.MustParseTimestamp("2026-03-01T08:00:35")) {
		t.Fatalf("due after next_timestamp")
	}
}

func TestApplyStampsScheduleAndReplacesSignal(t *testing.T) {
	t.Parallel()

	f := New(initial())
	now := scenario.MustParseTimestamp("2026-03-01T08:00:30")
	change, err := f.Apply(policy.Decision{
		Signal:          scenario.SignalStatus{Lights: map[string]scenario.Light{"Eastbound_Straight": scenario.LightGreen}},
		Configuration:   "EW_Through",
		DurationSeconds: 45,
		Justification:   "east queue",
	}, now)
	if err != nil {
		t.Fatalf("unexpected apply error: %v", err)
	}

	current := f.Current()
	if current.Light("Northbound_Straight") != "" || current.Light("Eastbound_Straight") != scenario.LightGreen {
		t.Fatalf("expected wholesale replacement, got %+v", current.Lights)
	}
	want := scenario.MustParseTimestamp("2026-03-01T08:01:15")
	if !current.LastChanged.Equal(now) || !current.NextChange.Equal(want) || !f.NextChange().Equal(want) {
		t.Fatalf("unexpected schedule: %s -> %s", current.LastChanged, current.NextChange)
	}
	var duration int
	if ok, _ := current.Extra(scenario.KeyDurationSeconds, &duration); !ok || duration != 45 {
		t.Fatalf("expected duration_seconds extra, got %d", duration)
	}
	if change.Sequence != 1 || f.Transitions() != 1 || f.Configuration() != "EW_Through" || f.Justification() != "east queue" {
		t.Fatalf("unexpected change bookkeeping: %+v", change)
	}
	if current.NextChange.String() != "2026-03-01T08:01:15" {
		t.Fatalf("expected zone-less form preserved, got %s", current.NextChange)
	}
}

func TestApplyRejectsOutOfRangeDuration(t *testing.T) {
	t.Parallel()

	f := New(initial())
	for _, seconds := range []int{29, 151} {
		_, err := f.Apply(policy.Decision{
			Signal:          scenario.SignalStatus{Lights: map[string]scenario.Light{"x": scenario.LightGreen}},
			Configuration:   "x",
			DurationSeconds: seconds,
		}, scenario.MustParseTimestamp("2026-03-01T08:00:30"))
		if !errors.Is(err, policy.ErrDurationOutOfRange) {
			t.Fatalf("expected %ds rejected, got %v", seconds, err)
		}
	}
	if f.Transitions() != 0 || f.Current().Light("Northbound_Straight") != scenario.LightGreen {
		t.Fatalf("rejected decisions must not change state")
	}
}
