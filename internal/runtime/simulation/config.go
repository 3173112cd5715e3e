package simulation

import (
	"time"

	"github.com/tiger/intersection-signal-sim/internal/observability/telemetry"
	"github.com/tiger/intersection-signal-sim/internal/runtime/pedestrian"
	"github.com/tiger/intersection-signal-sim/internal/runtime/rightofway"
	"github.com/tiger/intersection-signal-sim/internal/runtime/stall"
)

const (
	DefaultStepSeconds    = 5
	DefaultMaxSteps       = 10000
	DefaultQueueDistanceM = 50
)

// Config controls one run. Zero values take defaults.
type Config struct {
	RunID        string
	ScenarioName string

	StepSeconds    int
	MaxSteps       int
	QueueDistanceM float64

	KeyMode   rightofway.KeyMode
	Conflicts []rightofway.Conflict

	CrossingCap int
	// PoolFeed < 1 takes the default.
	PoolFeed int

	StallWindow int
	StallWarmup int

	Emitter   telemetry.Emitter
	Observers []SignalObserver
	// Now is the wall clock used for policy latency only.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.StepSeconds < 1 {
		c.StepSeconds = DefaultStepSeconds
	}
	if c.MaxSteps < 1 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.QueueDistanceM <= 0 {
		c.QueueDistanceM = DefaultQueueDistanceM
	}
	if c.KeyMode == "" {
		c.KeyMode = rightofway.KeyLane
	}
	if c.CrossingCap < 1 {
		c.CrossingCap = pedestrian.DefaultCrossingCap
	}
	if c.PoolFeed < 1 {
		c.PoolFeed = pedestrian.DefaultPoolFeed
	}
	if c.StallWindow < 2 {
		c.StallWindow = stall.DefaultWindow
	}
	if c.StallWarmup < 1 {
		c.StallWarmup = stall.DefaultWarmup
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) step() time.Duration {
	return time.Duration(c.StepSeconds) * time.Second
}
