package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/tiger/intersection-signal-sim/api/rules"
	"github.com/tiger/intersection-signal-sim/internal/policy"
	"github.com/tiger/intersection-signal-sim/internal/policy/delegating"
	"github.com/tiger/intersection-signal-sim/internal/policy/fixedcycle"
)

func stubDecider() delegating.Decider {
	return delegating.DeciderFunc(func(context.Context, delegating.Request) (delegating.Reply, error) {
		return delegating.Reply{}, errors.New("unused")
	})
}

func TestNewResolvesSelectorsAndAliases(t *testing.T) {
	t.Parallel()

	opts := Options{Delegating: delegating.Config{Decider: stubDecider()}}
	cases := []struct {
		selector string
		want     string
	}{
		{selector: "fixed_cycle", want: fixedcycle.Name},
		{selector: "set_interval", want: fixedcycle.Name},
		{selector: " Delegating ", want: delegating.Name},
		{selector: "multi_agent", want: delegating.Name},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.selector, func(t *testing.T) {
			t.Parallel()
			p, err := New(tc.selector, rules.DefaultRules(), opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, p.Name())
			}
		})
	}
}

func TestNewRejectsUnknownSelector(t *testing.T) {
	t.Parallel()

	_, err := New("greedy", rules.DefaultRules(), Options{})
	if !errors.Is(err, policy.ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestNewFactoryValidatesOnceAndBuildsFreshInstances(t *testing.T) {
	t.Parallel()

	if _, err := NewFactory("delegating", rules.DefaultRules(), Options{}); !errors.Is(err, delegating.ErrNoDecider) {
		t.Fatalf("expected ErrNoDecider, got %v", err)
	}

	factory, err := NewFactory("fixed_cycle", rules.DefaultRules(), Options{})
	if err != nil {
		t.Fatalf("unexpected factory error: %v", err)
	}
	a, _ := factory()
	b, _ := factory()
	if a == b {
		t.Fatalf("expected distinct policy instances")
	}
}

func TestSelectorsSorted(t *testing.T) {
	t.Parallel()

	got := Selectors()
	want := []string{"delegating", "fixed_cycle", "multi_agent", "set_interval"}
	if len(got) != len(want) {
		t.Fatalf("unexpected selectors: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected selectors: %v", got)
		}
	}
}
