package rules

import (
	"fmt"
	"strings"

	"github.com/tiger/intersection-signal-sim/api/scenario"
)

// Category groups configurations for fixed-cycle duration assignment.
type Category string

const (
	CategoryProtectedTurn Category = "protected_turn"
	CategoryGeneral       Category = "general"
)

// Validate enforces supported category values.
func (c Category) Validate() error {
	switch c {
	case CategoryProtectedTurn, CategoryGeneral:
		return nil
	default:
		return fmt.Errorf("unsupported configuration category: %q", c)
	}
}

// CrosswalkSignalPrefix marks signal keys that address crosswalks.
const CrosswalkSignalPrefix = "Crosswalk"

// Configuration is one named signal template of the policy space.
type Configuration struct {
	Name     string                    `json:"name" yaml:"name"`
	Signal   map[string]scenario.Light `json:"signal" yaml:"signal"`
	Category Category                  `json:"category,omitempty" yaml:"category,omitempty"`
}

// Permits reports whether the template lets movement key proceed on any
// permissive light.
func (c Configuration) Permits(key string) bool {
	light := c.Signal[key]
	return light == scenario.LightGreen || light == scenario.LightGreenArrow
}

// Opens reports whether the template gives crosswalk signal key a cross phase.
func (c Configuration) Opens(signalKey string) bool {
	return c.Signal[signalKey].PermitsCrossing()
}

// Rules is the ordered set of configurations a policy may select from.
type Rules struct {
	Configurations       []Configuration   `json:"traffic_rules" yaml:"traffic_rules"`
	MovementDescriptions map[string]string `json:"movement_descriptions,omitempty" yaml:"movement_descriptions,omitempty"`
}

// Names returns configuration names in declaration order.
func (r Rules) Names() []string {
	names := make([]string, len(r.Configurations))
	for i, c := range r.Configurations {
		names[i] = c.Name
	}
	return names
}

// Lookup finds a configuration by name.
func (r Rules) Lookup(name string) (Configuration, bool) {
	for _, c := range r.Configurations {
		if c.Name == name {
			return c, true
		}
	}
	return Configuration{}, false
}

// Validate checks names, light values and categories, deriving missing categories.
func (r *Rules) Validate() error {
	if len(r.Configurations) == 0 {
		return fmt.Errorf("traffic_rules must define at least one configuration")
	}
	seen := make(map[string]struct{}, len(r.Configurations))
	for i := range r.Configurations {
		c := &r.Configurations[i]
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("traffic_rules[%d]: name is required", i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate configuration %s", c.Name)
		}
		seen[c.Name] = struct{}{}
		if len(c.Signal) == 0 {
			return fmt.Errorf("configuration %s assigns no lights", c.Name)
		}
		for key, light := range c.Signal {
			if err := light.Validate(); err != nil {
				return fmt.Errorf("configuration %s[%s]: %w", c.Name, key, err)
			}
		}
		if c.Category == "" {
			c.Category = DeriveCategory(c.Signal)
		}
		if err := c.Category.Validate(); err != nil {
			return fmt.Errorf("configuration %s: %w", c.Name, err)
		}
	}
	return nil
}

// DeriveCategory classifies a template as protected_turn when every permissive
// vehicle-movement light in it is a green arrow.
func DeriveCategory(signal map[string]scenario.Light) Category {
	permissive := 0
	arrows := 0
	for key, light := range signal {
		if strings.HasPrefix(key, CrosswalkSignalPrefix) {
			continue
		}
		switch light {
		case scenario.LightGreen:
			permissive++
		case scenario.LightGreenArrow:
			permissive++
			arrows++
		}
	}
	if permissive > 0 && permissive == arrows {
		return CategoryProtectedTurn
	}
	return CategoryGeneral
}
