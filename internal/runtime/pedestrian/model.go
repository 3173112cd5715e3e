package pedestrian

import (
	"sort"
	"strings"

	"github.com/tiger/intersection-signal-sim/api/scenario"
)

const (
	DefaultCrossingCap = 2
	DefaultPoolFeed    = 1
)

// Config bounds per-tick pedestrian movement.
type Config struct {
	// CrossingCap is the most pedestrians one open crosswalk clears per tick.
	CrossingCap int
	// PoolFeed is the most pedestrians moved from the waiting pool per tick.
	// Values below 1 take the default; the pool always drains.
	PoolFeed int
}

func (c Config) withDefaults() Config {
	if c.CrossingCap < 1 {
		c.CrossingCap = DefaultCrossingCap
	}
	if c.PoolFeed < 1 {
		c.PoolFeed = DefaultPoolFeed
	}
	return c
}

// Model moves pedestrians across crosswalks whose signal permits crossing.
type Model struct {
	cfg Config
}

// New returns a model. Zero or negative limits take the defaults.
func New(cfg Config) Model {
	return Model{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (m Model) Config() Config { return m.cfg }

// StepResult is the outcome of one pedestrian tick.
type StepResult struct {
	Pedestrians scenario.Pedestrians
	// Crossed is the number added to the passed counter this tick.
	Crossed     int
	Fed         int
	FedInto     string
	ByCrosswalk map[string]int
}

// Step drains open crosswalks then feeds the waiting pool into the first
// open crosswalk. Waiting + crosswalk counts + crossed is conserved.
func (m Model) Step(in scenario.Pedestrians, signal scenario.SignalStatus) StepResult {
	p := in.Clone()
	if p.Crosswalks == nil {
		p.Crosswalks = make(map[string]int)
	}
	res := StepResult{}

	order := Order(p)
	for _, key := range order {
		if !signal.LookupFold(key).PermitsCrossing() {
			continue
		}
		n := min(m.cfg.CrossingCap, p.Crosswalks[key])
		if n <= 0 {
			continue
		}
		p.Crosswalks[key] -= n
		res.Crossed += n
		if res.ByCrosswalk == nil {
			res.ByCrosswalk = make(map[string]int)
		}
		res.ByCrosswalk[key] = n
	}

	if feed := min(m.cfg.PoolFeed, p.Waiting); feed > 0 {
		for _, key := range order {
			if signal.LookupFold(key).PermitsCrossing() {
				p.Crosswalks[key] += feed
				p.Waiting -= feed
				res.Fed = feed
				res.FedInto = key
				break
			}
		}
	}

	res.Pedestrians = p
	return res
}

// Order lists crosswalks in evaluation order: north-south, east-west, then
// any other crosswalk present in p sorted by key.
func Order(p scenario.Pedestrians) []string {
	order := []string{scenario.CrosswalkNorthSouth, scenario.CrosswalkEastWest}
	var extra []string
	for k := range p.Crosswalks {
		if k == scenario.CrosswalkNorthSouth || k == scenario.CrosswalkEastWest {
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// SignalKey renders a crosswalk count key in the capitalized form used by
// signal templates: crosswalk_north_south becomes Crosswalk_North_South.
func SignalKey(countKey string) string {
	parts := strings.Split(countKey, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, "_")
}
