package simulation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/metrics"
	"github.com/tiger/intersection-signal-sim/internal/observability/telemetry"
	"github.com/tiger/intersection-signal-sim/internal/policy"
	"github.com/tiger/intersection-signal-sim/internal/runtime/kinematics"
	"github.com/tiger/intersection-signal-sim/internal/runtime/pedestrian"
	"github.com/tiger/intersection-signal-sim/internal/runtime/rightofway"
	"github.com/tiger/intersection-signal-sim/internal/runtime/signalfsm"
	"github.com/tiger/intersection-signal-sim/internal/runtime/stall"
)

var (
	// ErrNilPolicy is returned when no policy is supplied.
	ErrNilPolicy = errors.New("simulation requires a policy")
	// ErrAlreadyRun is returned when Run is called twice on one simulator.
	ErrAlreadyRun = errors.New("simulation already run")
)

// SignalObserver is notified after each applied signal change.
type SignalObserver interface {
	SignalChanged(ctx context.Context, tick int, change signalfsm.Change)
}

// SignalObserverFunc adapts a function to SignalObserver.
type SignalObserverFunc func(ctx context.Context, tick int, change signalfsm.Change)

func (f SignalObserverFunc) SignalChanged(ctx context.Context, tick int, change signalfsm.Change) {
	f(ctx, tick, change)
}

// Simulator runs one scenario under one policy. It owns all run state and is
// used from a single goroutine.
type Simulator struct {
	cfg    Config
	policy policy.Policy
	scope  telemetry.Scope

	weather    string
	conditions *scenario.Context

	clock       scenario.Timestamp
	vehicles    []scenario.Vehicle
	pedestrians scenario.Pedestrians
	fsm         *signalfsm.FSM
	engine      *kinematics.Engine
	peds        pedestrian.Model
	stall       *stall.Detector

	reasoning         string
	passages          []kinematics.Passage
	passedPedestrians int
	queueLengths      []int
	trace             []Snapshot
	decisions         []DecisionRecord
	ran               bool
}

// New validates sc and prepares a run. The scenario is deep-copied.
func New(sc scenario.Scenario, p policy.Policy, cfg Config) (*Simulator, error) {
	if p == nil {
		return nil, ErrNilPolicy
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	cfg = cfg.withDefaults()
	rules, err := rightofway.New(cfg.KeyMode)
	if err != nil {
		return nil, err
	}
	if cfg.Conflicts != nil {
		rules.Conflicts = cfg.Conflicts
	}
	if cfg.KeyMode == rightofway.KeyDestination {
		for _, v := range sc.VehicleData {
			if strings.TrimSpace(v.Destination) == "" {
				return nil, fmt.Errorf("vehicle %s: destination is required in %s key mode", v.ID, cfg.KeyMode)
			}
		}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	s := &Simulator{
		cfg:         cfg,
		policy:      p,
		weather:     sc.Weather(),
		conditions:  sc.Context,
		clock:       sc.SignalStatus.LastChanged,
		vehicles:    scenario.CloneVehicles(sc.VehicleData),
		pedestrians: sc.Pedestrians.Clone(),
		fsm:         signalfsm.New(sc.SignalStatus),
		engine:      kinematics.New(rules),
		peds:        pedestrian.New(pedestrian.Config{CrossingCap: cfg.CrossingCap, PoolFeed: cfg.PoolFeed}),
		stall:       stall.New(stall.Config{Window: cfg.StallWindow, Warmup: cfg.StallWarmup}),
		reasoning:   InitialReasoning,
	}
	s.scope = telemetry.NewScope(cfg.Emitter, telemetry.Correlation{
		RunID:     cfg.RunID,
		Scenario:  cfg.ScenarioName,
		Policy:    p.Name(),
		EmittedBy: "simulation",
	})
	return s, nil
}

// RunID returns the identifier stamped on the result and telemetry.
func (s *Simulator) RunID() string { return s.cfg.RunID }

// Run executes ticks until the scenario completes, the step budget is spent,
// or the stall detector fires. A policy failure aborts the run with no result.
func (s *Simulator) Run(ctx context.Context) (Result, error) {
	if s.ran {
		return Result{}, ErrAlreadyRun
	}
	s.ran = true

	initialVehicles := len(s.vehicles)
	s.scope.At(0, s.clock.Time().UnixMilli()).Info("run_started", "simulation started", map[string]string{
		"vehicles":    strconv.Itoa(initialVehicles),
		"pedestrians": strconv.Itoa(s.pedestrians.Total()),
		"key_mode":    string(s.cfg.KeyMode),
	})
	s.record(0)

	termination := TerminationMaxSteps
	tick := 0
	for tick < s.cfg.MaxSteps && !s.complete() {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("run %s canceled before tick %d: %w", s.cfg.RunID, tick+1, err)
		}
		tick++
		stalled, err := s.tick(ctx, tick)
		if err != nil {
			s.scope.At(tick, s.clock.Time().UnixMilli()).Warn("run_failed", err.Error(), nil)
			return Result{}, fmt.Errorf("run %s tick %d: %w", s.cfg.RunID, tick, err)
		}
		if stalled {
			termination = TerminationStall
			break
		}
	}
	if termination != TerminationStall && s.complete() {
		termination = TerminationComplete
	}

	result := Result{
		RunID:             s.cfg.RunID,
		Scenario:          s.cfg.ScenarioName,
		Policy:            s.policy.Name(),
		Termination:       termination,
		Steps:             tick,
		Trace:             s.trace,
		Passages:          s.passages,
		PassedPedestrians: s.passedPedestrians,
		QueueLengths:      s.queueLengths,
		Decisions:         s.decisions,
		RemainingVehicles: len(s.vehicles),
	}
	result.Metrics = metrics.Aggregate(result.MetricsInput())
	s.report(result)
	return result, nil
}

func (s *Simulator) tick(ctx context.Context, tick int) (bool, error) {
	s.clock = s.clock.Add(s.cfg.step())
	scope := s.scope.At(tick, s.clock.Time().UnixMilli())

	if s.fsm.Due(s.clock) {
		if err := s.changeSignal(ctx, tick, scope); err != nil {
			return false, err
		}
	}

	signal := s.fsm.Current()

	pedStep := s.peds.Step(s.pedestrians, signal)
	s.pedestrians = pedStep.Pedestrians
	s.passedPedestrians += pedStep.Crossed

	step := s.engine.Step(s.vehicles, signal, s.pedestrians, s.clock, s.cfg.step())
	s.vehicles = step.Remaining
	s.passages = append(s.passages, step.Passed...)
	for _, hold := range step.Held {
		if hold.Verdict.Reason == rightofway.ReasonYield {
			scope.Debug("vehicle_yield", "left turn yielding to pedestrians", map[string]string{
				"vehicle_id": hold.VehicleID,
				"crosswalk":  hold.Verdict.Crosswalk,
			})
		}
	}

	queue := s.record(tick)
	s.queueLengths = append(s.queueLengths, queue)
	scope.Metric(telemetry.MetricQueueLength, float64(queue), "vehicles", nil)

	if !s.stall.Observe(tick, queue, len(s.vehicles)) {
		return false, nil
	}

	stuck := make([]string, len(s.vehicles))
	for i, v := range s.vehicles {
		stuck[i] = v.ID
	}
	scope.Warn("stall_detected", "queue unchanged across stall window; draining remaining vehicles", map[string]string{
		"queue_length": strconv.Itoa(queue),
		"window":       strconv.Itoa(s.stall.Config().Window),
		"vehicles":     strings.Join(stuck, ","),
	})
	scope.Metric(telemetry.MetricStallsTotal, 1, "count", nil)
	s.passages = append(s.passages, s.engine.Drain(s.vehicles, s.clock)...)
	s.vehicles = nil
	return true, nil
}

func (s *Simulator) changeSignal(ctx context.Context, tick int, scope telemetry.Scope) error {
	obs := policy.Observation{
		Tick:        tick,
		Now:         s.clock,
		Current:     s.fsm.Current(),
		Vehicles:    scenario.CloneVehicles(s.vehicles),
		Pedestrians: s.pedestrians.Clone(),
		Weather:     s.weather,
		Context:     s.conditions,
	}

	started := s.cfg.Now()
	decision, err := s.policy.Next(ctx, obs)
	latency := s.cfg.Now().Sub(started)
	scope.Metric(telemetry.MetricPolicyLatencyMS, float64(latency.Milliseconds()), "ms", map[string]string{"policy": s.policy.Name()})
	if err != nil {
		return fmt.Errorf("policy %s: %w", s.policy.Name(), err)
	}

	change, err := s.fsm.Apply(decision, s.clock)
	if err != nil {
		return fmt.Errorf("policy %s: %w", s.policy.Name(), err)
	}
	s.reasoning = decision.Justification
	s.decisions = append(s.decisions, DecisionRecord{
		Tick:            tick,
		At:              change.At,
		Until:           change.Until,
		Configuration:   change.Configuration,
		DurationSeconds: change.DurationSeconds,
		Justification:   change.Justification,
		LatencyMS:       latency.Milliseconds(),
	})

	scope.Info("signal_changed", change.Justification, map[string]string{
		"configuration":    change.Configuration,
		"duration_seconds": strconv.Itoa(change.DurationSeconds),
		"until":            change.Until.String(),
	})
	for _, o := range s.cfg.Observers {
		o.SignalChanged(ctx, tick, change)
	}
	return nil
}

// record appends a snapshot and returns its queue length.
func (s *Simulator) record(tick int) int {
	queue := kinematics.QueueLength(s.vehicles, s.cfg.QueueDistanceM)
	s.trace = append(s.trace, Snapshot{
		Tick:              tick,
		Timestamp:         s.clock,
		Signal:            s.fsm.Current(),
		Configuration:     s.fsm.Configuration(),
		Reasoning:         s.reasoning,
		Vehicles:          scenario.CloneVehicles(s.vehicles),
		Pedestrians:       s.pedestrians.Clone(),
		QueueLength:       queue,
		PassedVehicles:    len(s.passages),
		PassedPedestrians: s.passedPedestrians,
	})
	return queue
}

func (s *Simulator) complete() bool {
	return len(s.vehicles) == 0 && s.pedestrians.Total() == 0
}

func (s *Simulator) report(r Result) {
	scope := s.scope.At(r.Steps, s.clock.Time().UnixMilli())
	scope.Metric(telemetry.MetricVehiclesPassed, float64(len(r.Passages)), "vehicles", nil)
	scope.Metric(telemetry.MetricPedestriansPassed, float64(r.PassedPedestrians), "pedestrians", nil)
	scope.Metric(telemetry.MetricSignalChanges, float64(s.fsm.Transitions()), "count", nil)
	scope.Metric(telemetry.MetricRunTicks, float64(r.Steps), "ticks", nil)
	scope.Info("run_completed", "simulation finished", map[string]string{
		"termination":         string(r.Termination),
		"steps":               strconv.Itoa(r.Steps),
		"vehicles_passed":     strconv.Itoa(len(r.Passages)),
		"pedestrians_passed":  strconv.Itoa(r.PassedPedestrians),
		"average_delay_s":     strconv.FormatFloat(r.Metrics.AverageDelayPerVehicle, 'f', 2, 64),
		"co2_kg":              strconv.FormatFloat(r.Metrics.CarbonEmissions.CO2Kg, 'f', 4, 64),
		"throughput_per_hour": strconv.FormatFloat(r.Metrics.ThroughputPerHour.Total, 'f', 1, 64),
	})
}
