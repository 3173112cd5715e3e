package metrics

// EmissionFactor is per-kilometre tailpipe output for one vehicle class.
type EmissionFactor struct {
	CO2KgPerKM         float64 `json:"co2_kg_per_km" yaml:"co2_kg_per_km"`
	NOxGPerKM          float64 `json:"nox_g_per_km" yaml:"nox_g_per_km"`
	ParticulatesGPerKM float64 `json:"particulates_g_per_km" yaml:"particulates_g_per_km"`
}

// DefaultClass is the table entry used for unlisted vehicle types.
const DefaultClass = "default"

// Factors parameterizes the emission and energy model.
type Factors struct {
	Emissions map[string]EmissionFactor
	// EnergyKWhPerKM is keyed by vehicle class like Emissions.
	EnergyKWhPerKM map[string]float64
	// DistanceKM is the assumed path length through the intersection.
	DistanceKM float64
	// StopPenalty multiplies output by 1+StopPenalty*stops.
	StopPenalty float64
	// WaitPenalty multiplies emissions (not energy) by 1+WaitPenalty*wait_seconds.
	WaitPenalty float64
}

// DefaultFactors returns the built-in per-class tables.
func DefaultFactors() Factors {
	return Factors{
		Emissions: map[string]EmissionFactor{
			"car":        {CO2KgPerKM: 0.120, NOxGPerKM: 0.040, ParticulatesGPerKM: 0.002},
			"suv":        {CO2KgPerKM: 0.180, NOxGPerKM: 0.060, ParticulatesGPerKM: 0.003},
			"sedan":      {CO2KgPerKM: 0.130, NOxGPerKM: 0.045, ParticulatesGPerKM: 0.002},
			"truck":      {CO2KgPerKM: 0.500, NOxGPerKM: 0.200, ParticulatesGPerKM: 0.010},
			"bus":        {CO2KgPerKM: 0.800, NOxGPerKM: 0.300, ParticulatesGPerKM: 0.015},
			"van":        {CO2KgPerKM: 0.200, NOxGPerKM: 0.080, ParticulatesGPerKM: 0.004},
			"motorcycle": {CO2KgPerKM: 0.080, NOxGPerKM: 0.020, ParticulatesGPerKM: 0.001},
			"ambulance":  {CO2KgPerKM: 0.250, NOxGPerKM: 0.100, ParticulatesGPerKM: 0.005},
			DefaultClass: {CO2KgPerKM: 0.150, NOxGPerKM: 0.050, ParticulatesGPerKM: 0.002},
		},
		EnergyKWhPerKM: map[string]float64{
			"car":        0.20,
			"suv":        0.30,
			"sedan":      0.22,
			"truck":      0.80,
			"bus":        1.20,
			"van":        0.35,
			"motorcycle": 0.10,
			"ambulance":  0.40,
			DefaultClass: 0.25,
		},
		DistanceKM:  0.3,
		StopPenalty: 0.1,
		WaitPenalty: 0.01,
	}
}

func (f Factors) emission(class string) EmissionFactor {
	if e, ok := f.Emissions[class]; ok {
		return e
	}
	return f.Emissions[DefaultClass]
}

func (f Factors) energy(class string) float64 {
	if e, ok := f.EnergyKWhPerKM[class]; ok {
		return e
	}
	return f.EnergyKWhPerKM[DefaultClass]
}
