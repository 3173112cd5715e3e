package rules

import "github.com/tiger/intersection-signal-sim/api/scenario"

var approaches = []string{"Northbound", "Southbound", "Eastbound", "Westbound"}

// DefaultRules is the built-in four-phase plan: each axis gets a through phase
// with its parallel crosswalk, followed by a protected left phase.
func DefaultRules() Rules {
	r := Rules{
		Configurations: []Configuration{
			phase("NS_Through", CategoryGeneral, map[string]scenario.Light{
				"Northbound_Straight":   scenario.LightGreen,
				"Northbound_Right":      scenario.LightGreen,
				"Southbound_Straight":   scenario.LightGreen,
				"Southbound_Right":      scenario.LightGreen,
				"Crosswalk_North_South": scenario.LightWalk,
			}),
			phase("NS_Protected_Left", CategoryProtectedTurn, map[string]scenario.Light{
				"Northbound_Left": scenario.LightGreenArrow,
				"Southbound_Left": scenario.LightGreenArrow,
			}),
			phase("EW_Through", CategoryGeneral, map[string]scenario.Light{
				"Eastbound_Straight":  scenario.LightGreen,
				"Eastbound_Right":     scenario.LightGreen,
				"Westbound_Straight":  scenario.LightGreen,
				"Westbound_Right":     scenario.LightGreen,
				"Crosswalk_East_West": scenario.LightWalk,
			}),
			phase("EW_Protected_Left", CategoryProtectedTurn, map[string]scenario.Light{
				"Eastbound_Left": scenario.LightGreenArrow,
				"Westbound_Left": scenario.LightGreenArrow,
			}),
		},
		MovementDescriptions: map[string]string{
			"NS_Through":        "North-south through and right turns with the north-south crosswalk open",
			"NS_Protected_Left": "Protected left turns for north- and southbound traffic",
			"EW_Through":        "East-west through and right turns with the east-west crosswalk open",
			"EW_Protected_Left": "Protected left turns for east- and westbound traffic",
		},
	}
	return r
}

// phase fills every movement and crosswalk key not named in open with red.
func phase(name string, category Category, open map[string]scenario.Light) Configuration {
	signal := make(map[string]scenario.Light, 14)
	for _, a := range approaches {
		for _, m := range []string{"Straight", "Left", "Right"} {
			signal[a+"_"+m] = scenario.LightRed
		}
	}
	signal["Crosswalk_North_South"] = scenario.LightRed
	signal["Crosswalk_East_West"] = scenario.LightRed
	for k, v := range open {
		signal[k] = v
	}
	return Configuration{Name: name, Signal: signal, Category: category}
}
