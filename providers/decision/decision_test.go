package decision

import (
	"errors"
	"testing"

	"github.com/tiger/intersection-signal-sim/providers/decision/anthropic"
	"github.com/tiger/intersection-signal-sim/providers/decision/httpdecision"
	"github.com/tiger/intersection-signal-sim/providers/decision/openai"
)

func lookup(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func noFile(string) ([]byte, error) { return nil, errors.New("no file") }

func TestNewFromLookupSelectsProvider(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		override string
		env      map[string]string
		want     string
	}{
		{name: "default", env: map[string]string{}, want: openai.ProviderID},
		{name: "env anthropic", env: map[string]string{EnvProvider: "Anthropic"}, want: anthropic.ProviderID},
		{name: "override wins", override: "deepseek", env: map[string]string{EnvProvider: "anthropic"}, want: openai.ProviderID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, err := newFromLookup(tc.override, lookup(tc.env), noFile)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			hd, ok := d.(*httpdecision.Decider)
			if !ok || hd.ProviderID() != tc.want {
				t.Fatalf("expected %s decider, got %T", tc.want, d)
			}
		})
	}
}

func TestNewFromLookupPromptFile(t *testing.T) {
	t.Parallel()

	env := lookup(map[string]string{EnvPromptFile: "prompt.tmpl"})
	if _, err := newFromLookup("", env, noFile); err == nil {
		t.Fatalf("expected unreadable prompt file to fail")
	}
	bad := func(string) ([]byte, error) { return []byte("{{.Tick"), nil }
	if _, err := newFromLookup("", env, bad); err == nil {
		t.Fatalf("expected invalid template to fail")
	}
	good := func(string) ([]byte, error) { return []byte("tick {{.Tick}}"), nil }
	if _, err := newFromLookup("", env, good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFromLookupRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := newFromLookup("carrier-pigeon", lookup(nil), noFile); err == nil {
		t.Fatalf("expected unknown provider to fail")
	}
}
