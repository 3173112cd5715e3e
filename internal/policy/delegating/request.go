package delegating

import (
	"context"

	"github.com/samber/lo"

	"github.com/tiger/intersection-signal-sim/api/rules"
	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/runtime/rightofway"
)

// MemoryEntry is one past decision as shown to the decider.
type MemoryEntry struct {
	Configuration string `json:"configuration"`
	Duration      int    `json:"duration"`
}

// Demand is the waiting traffic one configuration would release.
type Demand struct {
	Configuration string `json:"configuration"`
	Vehicles      int    `json:"vehicles"`
	Pedestrians   int    `json:"pedestrians"`
}

// ConfigurationView describes a selectable configuration.
type ConfigurationView struct {
	Name        string                    `json:"name"`
	Category    rules.Category            `json:"category"`
	Description string                    `json:"description,omitempty"`
	Signal      map[string]scenario.Light `json:"signal"`
}

// Request is the snapshot handed to a Decider.
type Request struct {
	Tick                 int                  `json:"tick"`
	Now                  scenario.Timestamp   `json:"now"`
	CurrentConfiguration string               `json:"current_configuration,omitempty"`
	Vehicles             []scenario.Vehicle   `json:"vehicles"`
	Pedestrians          scenario.Pedestrians `json:"pedestrians"`
	Weather              string               `json:"weather,omitempty"`
	Context              *scenario.Context    `json:"context,omitempty"`
	Configurations       []ConfigurationView  `json:"configurations"`
	Demand               []Demand             `json:"demand"`
	Memory               []MemoryEntry        `json:"memory"`
	MaxWait              int                  `json:"max_wait"`
	MinDurationSeconds   int                  `json:"min_duration_seconds"`
	MaxDurationSeconds   int                  `json:"max_duration_seconds"`
}

// Reply is the decider's answer. Raw keeps the payload it was parsed from.
type Reply struct {
	SelectedConfiguration string `json:"selected_configuration"`
	DurationSeconds       int    `json:"duration_seconds"`
	Justification         string `json:"justification"`
	Raw                   string `json:"-"`
}

// Decider computes a decision outside the simulator, typically over the network.
type Decider interface {
	Decide(ctx context.Context, req Request) (Reply, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req Request) (Reply, error)

func (f DeciderFunc) Decide(ctx context.Context, req Request) (Reply, error) { return f(ctx, req) }

// AggregateDemand counts, per configuration, the vehicles within queueM of the
// stop line whose movement it permits and the pedestrians on crosswalks it opens.
func AggregateDemand(r rules.Rules, row rightofway.Rules, vehicles []scenario.Vehicle, peds scenario.Pedestrians, queueM float64) []Demand {
	waiting := lo.Filter(vehicles, func(v scenario.Vehicle, _ int) bool {
		return v.DistanceM < queueM
	})
	crosswalks := lo.Entries(peds.Crosswalks)

	return lo.Map(r.Configurations, func(cfg rules.Configuration, _ int) Demand {
		template := scenario.SignalStatus{Lights: cfg.Signal}
		return Demand{
			Configuration: cfg.Name,
			Vehicles: lo.CountBy(waiting, func(v scenario.Vehicle) bool {
				return cfg.Permits(row.MovementKey(v))
			}),
			Pedestrians: lo.SumBy(crosswalks, func(e lo.Entry[string, int]) int {
				if template.LookupFold(e.Key).PermitsCrossing() {
					return e.Value
				}
				return 0
			}),
		}
	})
}

func configurationViews(r rules.Rules) []ConfigurationView {
	return lo.Map(r.Configurations, func(cfg rules.Configuration, _ int) ConfigurationView {
		return ConfigurationView{
			Name:        cfg.Name,
			Category:    cfg.Category,
			Description: r.MovementDescriptions[cfg.Name],
			Signal:      cfg.Signal,
		}
	})
}
