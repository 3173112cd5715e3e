package simulation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tiger/intersection-signal-sim/api/rules"
	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/observability/telemetry"
	"github.com/tiger/intersection-signal-sim/internal/policy"
	"github.com/tiger/intersection-signal-sim/internal/policy/fixedcycle"
	"github.com/tiger/intersection-signal-sim/internal/runtime/rightofway"
	"github.com/tiger/intersection-signal-sim/internal/runtime/signalfsm"
)

func baseScenario(lights map[string]scenario.Light, vehicles ...scenario.Vehicle) scenario.Scenario {
	return scenario.Scenario{
		VehicleData: vehicles,
		Pedestrians: scenario.Pedestrians{Crosswalks: map[string]int{}},
		SignalStatus: scenario.SignalStatus{
			Lights:      lights,
			LastChanged: scenario.MustParseTimestamp("2026-03-01T08:00:00"),
			NextChange:  scenario.MustParseTimestamp("2026-03-01T08:01:00"),
		},
	}
}

func fixedCycle(t *testing.T) policy.Policy {
	t.Helper()
	p, err := fixedcycle.New(rules.DefaultRules(), fixedcycle.Config{})
	if err != nil {
		t.Fatalf("unexpected policy error: %v", err)
	}
	return p
}

type stubPolicy struct {
	decide func(policy.Observation) (policy.Decision, error)
	calls  int
}

func (p *stubPolicy) Name() string { return "stub" }

func (p *stubPolicy) Next(_ context.Context, obs policy.Observation) (policy.Decision, error) {
	p.calls++
	return p.decide(obs)
}

func run(t *testing.T, sc scenario.Scenario, p policy.Policy, cfg Config) Result {
	t.Helper()
	sim, err := New(sc, p, cfg)
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	res, err := sim.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	return res
}

func TestRunSlowVehiclePassesOnFirstTick(t *testing.T) {
	t.Parallel()

	sc := baseScenario(
		map[string]scenario.Light{"Southbound_Straight": scenario.LightGreen},
		scenario.Vehicle{ID: "v1", LaneID: "Southbound_Straight", SpeedKMH: 4, DistanceM: 5.2, Type: "car"},
	)
	res := run(t, sc, fixedCycle(t), Config{RunID: "run-slow"})

	if res.Termination != TerminationComplete || res.Steps != 1 {
		t.Fatalf("expected completion after one tick, got %s/%d", res.Termination, res.Steps)
	}
	if len(res.Passages) != 1 || res.Passages[0].Stops != 0 || res.Passages[0].Forced {
		t.Fatalf("unexpected passages: %+v", res.Passages)
	}
	if len(res.Trace) != 2 || res.Trace[0].Reasoning != InitialReasoning || res.Trace[1].PassedVehicles != 1 {
		t.Fatalf("unexpected trace: %+v", res.Trace)
	}
	if res.Trace[1].Timestamp.String() != "2026-03-01T08:00:05" {
		t.Fatalf("expected 5s tick, got %s", res.Trace[1].Timestamp)
	}
	if len(res.Decisions) != 0 {
		t.Fatalf("signal was not due, got decisions %+v", res.Decisions)
	}
	if res.Metrics.VehiclesPassed != 1 || res.RunID != "run-slow" || res.Policy != fixedcycle.Name {
		t.Fatalf("unexpected result header/metrics: %+v", res)
	}
}

func TestRunLeftTurnYieldsThenPasses(t *testing.T) {
	t.Parallel()

	sc := baseScenario(
		map[string]scenario.Light{
			"Southbound_Left":     scenario.LightGreen,
			"Crosswalk_East_West": scenario.LightWalk,
		},
		scenario.Vehicle{ID: "left", LaneID: "Southbound_Left", SpeedKMH: 20, DistanceM: 3, Type: "car"},
	)
	sc.Pedestrians.Crosswalks[scenario.CrosswalkEastWest] = 3

	res := run(t, sc, fixedCycle(t), Config{})

	first := res.Trace[1]
	if first.PassedVehicles != 0 || len(first.Vehicles) != 1 || first.Vehicles[0].SpeedKMH != 0 {
		t.Fatalf("expected vehicle held on tick 1, got %+v", first)
	}
	if first.Pedestrians.Count(scenario.CrosswalkEastWest) != 1 || first.PassedPedestrians != 2 {
		t.Fatalf("expected pedestrians to cross before the vehicle check, got %+v", first.Pedestrians)
	}
	if len(res.Passages) != 1 || res.Passages[0].Stops != 1 || res.Passages[0].WaitSeconds != 5 {
		t.Fatalf("expected one passage after one stop, got %+v", res.Passages)
	}
	if res.Steps != 2 || res.Termination != TerminationComplete || res.PassedPedestrians != 3 {
		t.Fatalf("unexpected termination: %+v", res)
	}
}

func TestRunStallDrainsUnservableVehicles(t *testing.T) {
	t.Parallel()

	recorder := telemetry.NewRecorder()
	sc := baseScenario(
		map[string]scenario.Light{"Northbound_Straight": scenario.LightRed},
		scenario.Vehicle{ID: "ghost", LaneID: "Diagonal_Straight", SpeedKMH: 30, DistanceM: 10, Type: "van"},
		scenario.Vehicle{ID: "far", LaneID: "Diagonal_Straight", SpeedKMH: 0, DistanceM: 400, Type: "car"},
	)
	res := run(t, sc, fixedCycle(t), Config{Emitter: recorder})

	if res.Termination != TerminationStall || res.Steps != 21 {
		t.Fatalf("expected stall on tick 21, got %s/%d", res.Termination, res.Steps)
	}
	if len(res.Passages) != 2 || res.RemainingVehicles != 0 {
		t.Fatalf("expected both vehicles drained, got %+v", res.Passages)
	}
	for _, p := range res.Passages {
		if !p.Forced {
			t.Fatalf("expected forced passage, got %+v", p)
		}
	}
	if res.Passages[0].Stops != 1 || res.Passages[0].WaitSeconds != 105 {
		t.Fatalf("expected accrued stats on drained vehicle, got %+v", res.Passages[0])
	}
	warnings := recorder.Sink.Logs("stall_detected")
	if len(warnings) != 1 || warnings[0].Severity != telemetry.SeverityWarn {
		t.Fatalf("expected one stall warning, got %+v", warnings)
	}
	if res.Metrics.ForcedPassages != 2 {
		t.Fatalf("expected metrics to count forced passages, got %+v", res.Metrics)
	}
}

func TestRunConservesVehiclesAndDistances(t *testing.T) {
	t.Parallel()

	lanes := []string{"Northbound_Straight", "Southbound_Left", "Eastbound_Right", "Westbound_Straight", "Eastbound_Left"}
	var vehicles []scenario.Vehicle
	for i := 0; i < 25; i++ {
		vehicles = append(vehicles, scenario.Vehicle{
			ID:        fmt.Sprintf("v%02d", i),
			LaneID:    lanes[i%len(lanes)],
			SpeedKMH:  float64(10 + (i*7)%40),
			DistanceM: float64((i * 37) % 220),
			Type:      []string{"car", "bus", "truck"}[i%3],
		})
	}
	sc := baseScenario(rules.DefaultRules().Configurations[0].Signal, vehicles...)
	sc.Pedestrians = scenario.Pedestrians{Waiting: 4, Crosswalks: map[string]int{
		scenario.CrosswalkNorthSouth: 3,
		scenario.CrosswalkEastWest:   5,
	}}

	res := run(t, sc, fixedCycle(t), Config{MaxSteps: 400})

	if len(res.Passages)+res.RemainingVehicles != len(vehicles) {
		t.Fatalf("vehicle conservation broken: %d passed + %d remaining", len(res.Passages), res.RemainingVehicles)
	}
	seen := make(map[string]bool)
	for _, p := range res.Passages {
		if seen[p.VehicleID] {
			t.Fatalf("vehicle %s passed twice", p.VehicleID)
		}
		seen[p.VehicleID] = true
	}

	initialPeds := sc.Pedestrians.Total()
	last := map[string]float64{}
	for _, snap := range res.Trace {
		if snap.Pedestrians.Total()+snap.PassedPedestrians != initialPeds {
			t.Fatalf("tick %d: pedestrian conservation broken", snap.Tick)
		}
		for _, v := range snap.Vehicles {
			if v.DistanceM < 0 {
				t.Fatalf("tick %d: negative distance for %s", snap.Tick, v.ID)
			}
			if prev, ok := last[v.ID]; ok && v.DistanceM > prev {
				t.Fatalf("tick %d: %s moved backwards %v -> %v", snap.Tick, v.ID, prev, v.DistanceM)
			}
			last[v.ID] = v.DistanceM
		}
	}
	if len(res.QueueLengths) != res.Steps || len(res.Trace) != res.Steps+1 {
		t.Fatalf("expected one queue sample per tick and one extra initial snapshot")
	}
	if len(res.Decisions) == 0 {
		t.Fatalf("expected the policy to be consulted")
	}
}

func TestRunRejectsOutOfRangeDuration(t *testing.T) {
	t.Parallel()

	p := &stubPolicy{decide: func(obs policy.Observation) (policy.Decision, error) {
		return policy.Decision{
			Signal:          scenario.SignalStatus{Lights: map[string]scenario.Light{"Northbound_Straight": scenario.LightGreen}},
			Configuration:   "NS",
			DurationSeconds: 10,
			Justification:   "too short",
		}, nil
	}}
	sc := baseScenario(map[string]scenario.Light{"Northbound_Straight": scenario.LightRed},
		scenario.Vehicle{ID: "v1", LaneID: "Northbound_Straight", SpeedKMH: 0, DistanceM: 0, Type: "car"})
	sc.SignalStatus.NextChange = sc.SignalStatus.LastChanged

	sim, err := New(sc, p, Config{})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	_, err = sim.Run(context.Background())
	if !errors.Is(err, policy.ErrDurationOutOfRange) {
		t.Fatalf("expected duration rejection, got %v", err)
	}
}

func TestRunFailsOnPolicyError(t *testing.T) {
	t.Parallel()

	boom := errors.New("decision service unavailable")
	p := &stubPolicy{decide: func(policy.Observation) (policy.Decision, error) { return policy.Decision{}, boom }}
	sc := baseScenario(map[string]scenario.Light{"Northbound_Straight": scenario.LightRed},
		scenario.Vehicle{ID: "v1", LaneID: "Northbound_Straight", SpeedKMH: 0, DistanceM: 0, Type: "car"})

	sim, _ := New(sc, p, Config{})
	if _, err := sim.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected policy failure, got %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly one policy call, got %d", p.calls)
	}
}

func TestRunNotifiesObserversAndRecordsDecisions(t *testing.T) {
	t.Parallel()

	var ticks []int
	var configs []string
	observer := SignalObserverFunc(func(_ context.Context, tick int, change signalfsm.Change) {
		ticks = append(ticks, tick)
		configs = append(configs, change.Configuration)
	})
	sc := baseScenario(map[string]scenario.Light{"Northbound_Straight": scenario.LightRed},
		scenario.Vehicle{ID: "v1", LaneID: "Eastbound_Left", SpeedKMH: 0, DistanceM: 0, Type: "car"})

	res := run(t, sc, fixedCycle(t), Config{Observers: []SignalObserver{observer}, StallWarmup: 100})

	// 60s initial phase, then NS_Through 60s, NS_Protected_Left 30s, EW_Through 60s, EW_Protected_Left.
	wantTicks := []int{12, 24, 30, 42}
	wantConfigs := []string{"NS_Through", "NS_Protected_Left", "EW_Through", "EW_Protected_Left"}
	if fmt.Sprint(ticks) != fmt.Sprint(wantTicks) || fmt.Sprint(configs) != fmt.Sprint(wantConfigs) {
		t.Fatalf("unexpected notifications: ticks=%v configs=%v", ticks, configs)
	}
	if len(res.Decisions) != 4 || res.Decisions[3].Configuration != "EW_Protected_Left" {
		t.Fatalf("unexpected decisions: %+v", res.Decisions)
	}
	if res.Passages[0].WaitSeconds != 205 {
		t.Fatalf("expected 41 held ticks before the protected left, got %+v", res.Passages[0])
	}
	if res.Trace[42].Reasoning == InitialReasoning || res.Trace[42].Configuration != "EW_Protected_Left" {
		t.Fatalf("expected trace to carry the applied justification, got %+v", res.Trace[42])
	}
}

func TestRunMaxSteps(t *testing.T) {
	t.Parallel()

	sc := baseScenario(map[string]scenario.Light{"Northbound_Straight": scenario.LightGreen},
		scenario.Vehicle{ID: "v1", LaneID: "Northbound_Straight", SpeedKMH: 10, DistanceM: 1000, Type: "car"})
	res := run(t, sc, fixedCycle(t), Config{MaxSteps: 3})
	if res.Termination != TerminationMaxSteps || res.Steps != 3 || res.RemainingVehicles != 1 {
		t.Fatalf("unexpected termination: %+v", res)
	}
}

func TestRunOnlyOnce(t *testing.T) {
	t.Parallel()

	sim, err := New(baseScenario(map[string]scenario.Light{"Northbound_Straight": scenario.LightGreen}), fixedCycle(t), Config{})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	res, err := sim.Run(context.Background())
	if err != nil || res.Termination != TerminationComplete || res.Steps != 0 {
		t.Fatalf("expected empty scenario to complete immediately, got %+v %v", res, err)
	}
	if _, err := sim.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("expected ErrAlreadyRun, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	sc := baseScenario(map[string]scenario.Light{"Northbound_Straight": scenario.LightGreen},
		scenario.Vehicle{ID: "v1", LaneID: "Northbound_Straight", SpeedKMH: 10, DistanceM: 10, Type: "car"})
	if _, err := New(sc, nil, Config{}); !errors.Is(err, ErrNilPolicy) {
		t.Fatalf("expected ErrNilPolicy, got %v", err)
	}
	if _, err := New(sc, fixedCycle(t), Config{KeyMode: rightofway.KeyDestination}); err == nil {
		t.Fatalf("expected destination mode to require destinations")
	}
	if _, err := New(sc, fixedCycle(t), Config{KeyMode: "both"}); err == nil {
		t.Fatalf("expected unknown key mode to fail")
	}
	sim, err := New(sc, fixedCycle(t), Config{})
	if err != nil || sim.RunID() == "" {
		t.Fatalf("expected generated run id, got %q %v", sim.RunID(), err)
	}
}

func TestRunHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	sc := baseScenario(map[string]scenario.Light{"Northbound_Straight": scenario.LightGreen},
		scenario.Vehicle{ID: "v1", LaneID: "Northbound_Straight", SpeedKMH: 10, DistanceM: 1000, Type: "car"})
	sim, _ := New(sc, fixedCycle(t), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sim.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
