package fixedcycle

import (
	"context"
	"fmt"

	"github.com/tiger/intersection-signal-sim/api/rules"
	"github.com/tiger/intersection-signal-sim/internal/policy"
)

const (
	// Name is the registry selector.
	Name = "fixed_cycle"

	DefaultProtectedTurnSeconds = 30
	DefaultGeneralSeconds       = 60
)

// Config sets per-category phase durations.
type Config struct {
	ProtectedTurnSeconds int
	GeneralSeconds       int
}

func (c Config) withDefaults() Config {
	if c.ProtectedTurnSeconds == 0 {
		c.ProtectedTurnSeconds = DefaultProtectedTurnSeconds
	}
	if c.GeneralSeconds == 0 {
		c.GeneralSeconds = DefaultGeneralSeconds
	}
	return c
}

// Policy cycles through configurations in declaration order.
type Policy struct {
	rules rules.Rules
	cfg   Config
	next  int
}

// New validates the rule set and both durations up front so Next never
// produces an out-of-range decision.
func New(r rules.Rules, cfg Config) (*Policy, error) {
	if len(r.Configurations) == 0 {
		return nil, policy.ErrNoConfigurations
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := policy.ValidateDuration(cfg.ProtectedTurnSeconds); err != nil {
		return nil, fmt.Errorf("protected turn duration: %w", err)
	}
	if err := policy.ValidateDuration(cfg.GeneralSeconds); err != nil {
		return nil, fmt.Errorf("general duration: %w", err)
	}
	return &Policy{rules: r, cfg: cfg}, nil
}

func (p *Policy) Name() string { return Name }

// Next returns the configuration after the previous one, wrapping around.
func (p *Policy) Next(_ context.Context, obs policy.Observation) (policy.Decision, error) {
	n := len(p.rules.Configurations)
	slot := p.next
	cfg := p.rules.Configurations[slot]
	p.next = (slot + 1) % n

	duration := p.cfg.GeneralSeconds
	if cfg.Category == rules.CategoryProtectedTurn {
		duration = p.cfg.ProtectedTurnSeconds
	}

	return policy.Decision{
		Signal:          policy.Compose(obs.Current, cfg),
		Configuration:   cfg.Name,
		DurationSeconds: duration,
		Justification:   fmt.Sprintf("fixed cycle: %s (slot %d of %d, %s)", cfg.Name, slot+1, n, cfg.Category),
	}, nil
}
