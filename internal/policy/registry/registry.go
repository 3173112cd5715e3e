package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tiger/intersection-signal-sim/api/rules"
	"github.com/tiger/intersection-signal-sim/internal/policy"
	"github.com/tiger/intersection-signal-sim/internal/policy/delegating"
	"github.com/tiger/intersection-signal-sim/internal/policy/fixedcycle"
)

// Options carries per-variant construction settings.
type Options struct {
	FixedCycle fixedcycle.Config
	Delegating delegating.Config
}

// Factory builds a fresh policy instance.
type Factory func() (policy.Policy, error)

var aliases = map[string]string{
	fixedcycle.Name: fixedcycle.Name,
	"set_interval":  fixedcycle.Name,
	delegating.Name: delegating.Name,
	"multi_agent":   delegating.Name,
}

// Canonical resolves a selector or alias to its policy name.
func Canonical(selector string) (string, error) {
	name, ok := aliases[strings.ToLower(strings.TrimSpace(selector))]
	if !ok {
		return "", fmt.Errorf("%w: %q (known: %s)", policy.ErrUnknownPolicy, selector, strings.Join(Selectors(), ", "))
	}
	return name, nil
}

// Selectors returns every accepted selector in deterministic order.
func Selectors() []string {
	out := make([]string, 0, len(aliases))
	for selector := range aliases {
		out = append(out, selector)
	}
	sort.Strings(out)
	return out
}

// New constructs the policy named by selector over r.
func New(selector string, r rules.Rules, opts Options) (policy.Policy, error) {
	name, err := Canonical(selector)
	if err != nil {
		return nil, err
	}
	switch name {
	case fixedcycle.Name:
		return fixedcycle.New(r, opts.FixedCycle)
	default:
		return delegating.New(r, opts.Delegating)
	}
}

// NewFactory validates selector and settings once and returns a factory that
// builds an independent policy per call.
func NewFactory(selector string, r rules.Rules, opts Options) (Factory, error) {
	if _, err := New(selector, r, opts); err != nil {
		return nil, err
	}
	return func() (policy.Policy, error) {
		return New(selector, r, opts)
	}, nil
}
