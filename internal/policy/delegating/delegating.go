package delegating

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tiger/intersection-signal-sim/api/rules"
	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/policy"
	"github.com/tiger/intersection-signal-sim/internal/runtime/rightofway"
)

const (
	// Name is the registry selector.
	Name = "delegating"

	// MemorySize is how many past decisions are kept, most recent first.
	MemorySize = 10

	DefaultMaxWait        = 4
	DefaultQueueDistanceM = 50
)

// ErrNoDecider is returned when no decision capability was injected.
var ErrNoDecider = errors.New("delegating policy requires a decider")

// Config wires the decision capability and request shaping.
type Config struct {
	Decider Decider
	// MaxWait is the number of phases a direction should wait at most; advisory.
	MaxWait        int
	KeyMode        rightofway.KeyMode
	QueueDistanceM float64
}

func (c Config) withDefaults() Config {
	if c.MaxWait < 1 {
		c.MaxWait = DefaultMaxWait
	}
	if c.KeyMode == "" {
		c.KeyMode = rightofway.KeyLane
	}
	if c.QueueDistanceM <= 0 {
		c.QueueDistanceM = DefaultQueueDistanceM
	}
	return c
}

// Policy forwards each decision to an injected Decider and validates the reply.
type Policy struct {
	rules   rules.Rules
	row     rightofway.Rules
	decider Decider
	cfg     Config

	memory  []MemoryEntry
	current string
}

// New returns a delegating policy over r.
func New(r rules.Rules, cfg Config) (*Policy, error) {
	if cfg.Decider == nil {
		return nil, ErrNoDecider
	}
	if len(r.Configurations) == 0 {
		return nil, policy.ErrNoConfigurations
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	row, err := rightofway.New(cfg.KeyMode)
	if err != nil {
		return nil, err
	}
	return &Policy{rules: r, row: row, decider: cfg.Decider, cfg: cfg}, nil
}

func (p *Policy) Name() string { return Name }

// Memory returns past decisions, most recent first.
func (p *Policy) Memory() []MemoryEntry {
	out := make([]MemoryEntry, len(p.memory))
	copy(out, p.memory)
	return out
}

// Next asks the decider for the next configuration. Any transport failure or
// invalid reply fails the call; no fallback decision is substituted.
func (p *Policy) Next(ctx context.Context, obs policy.Observation) (policy.Decision, error) {
	req := p.request(obs)
	reply, err := p.decider.Decide(ctx, req)
	if err != nil {
		return policy.Decision{}, p.reject(reply.Raw, fmt.Errorf("%w: %w", policy.ErrDecisionRejected, err))
	}

	cfg, err := p.validate(reply)
	if err != nil {
		return policy.Decision{}, p.reject(reply.Raw, err)
	}

	signal := policy.Compose(obs.Current, cfg)
	if obs.Weather != "" {
		if err := signal.SetExtra(scenario.KeyWeatherData, obs.Weather); err != nil {
			return policy.Decision{}, err
		}
	}
	if obs.Context != nil {
		if err := signal.SetExtra(scenario.KeyContextData, obs.Context); err != nil {
			return policy.Decision{}, err
		}
	}

	p.remember(MemoryEntry{Configuration: cfg.Name, Duration: reply.DurationSeconds})
	p.current = cfg.Name

	return policy.Decision{
		Signal:          signal,
		Configuration:   cfg.Name,
		DurationSeconds: reply.DurationSeconds,
		Justification:   strings.TrimSpace(reply.Justification),
	}, nil
}

func (p *Policy) request(obs policy.Observation) Request {
	return Request{
		Tick:                 obs.Tick,
		Now:                  obs.Now,
		CurrentConfiguration: p.current,
		Vehicles:             scenario.CloneVehicles(obs.Vehicles),
		Pedestrians:          obs.Pedestrians.Clone(),
		Weather:              obs.Weather,
		Context:              obs.Context,
		Configurations:       configurationViews(p.rules),
		Demand:               AggregateDemand(p.rules, p.row, obs.Vehicles, obs.Pedestrians, p.cfg.QueueDistanceM),
		Memory:               p.Memory(),
		MaxWait:              p.cfg.MaxWait,
		MinDurationSeconds:   policy.MinDurationSeconds,
		MaxDurationSeconds:   policy.MaxDurationSeconds,
	}
}

func (p *Policy) validate(reply Reply) (rules.Configuration, error) {
	name := strings.TrimSpace(reply.SelectedConfiguration)
	if name == "" {
		return rules.Configuration{}, fmt.Errorf("%w: selected_configuration is required", policy.ErrDecisionRejected)
	}
	cfg, ok := p.rules.Lookup(name)
	if !ok {
		return rules.Configuration{}, fmt.Errorf("%w: unknown configuration %q", policy.ErrDecisionRejected, name)
	}
	if err := policy.ValidateDuration(reply.DurationSeconds); err != nil {
		return rules.Configuration{}, err
	}
	if strings.TrimSpace(reply.Justification) == "" {
		return rules.Configuration{}, fmt.Errorf("%w: justification is required", policy.ErrDecisionRejected)
	}
	return cfg, nil
}

func (p *Policy) reject(raw string, err error) error {
	return &policy.DecisionError{Policy: Name, Payload: raw, Err: err}
}

func (p *Policy) remember(entry MemoryEntry) {
	p.memory = append([]MemoryEntry{entry}, p.memory...)
	if len(p.memory) > MemorySize {
		p.memory = p.memory[:MemorySize]
	}
}
