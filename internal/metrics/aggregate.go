package metrics

import (
	"github.com/samber/lo"

	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/runtime/kinematics"
)

// MinDurationHours stands in for the run length when the trace spans no time.
const MinDurationHours = 0.01

// Input is everything the aggregator reads. It is never mutated.
type Input struct {
	// Timestamps are the trace snapshot times in order.
	Timestamps        []scenario.Timestamp
	Passages          []kinematics.Passage
	PassedPedestrians int
	QueueLengths      []int
}

// Throughput is flow per hour of simulated time.
type Throughput struct {
	Vehicles    float64 `json:"vehicles"`
	Pedestrians float64 `json:"pedestrians"`
	Total       float64 `json:"total"`
}

// Emissions are run totals.
type Emissions struct {
	CO2Kg         float64 `json:"CO2_kg"`
	NOxG          float64 `json:"NOx_g"`
	ParticulatesG float64 `json:"particulates_g"`
}

// ClassMetrics breaks emissions and energy down by vehicle class.
type ClassMetrics struct {
	Vehicles  int       `json:"vehicles"`
	Emissions Emissions `json:"emissions"`
	EnergyKWh float64   `json:"energy_kwh"`
}

// Metrics is the bundle produced once per finished run.
type Metrics struct {
	DurationHours          float64                 `json:"duration_hours"`
	VehiclesPassed         int                     `json:"vehicles_passed"`
	ForcedPassages         int                     `json:"forced_passages"`
	PedestriansPassed      int                     `json:"pedestrians_passed"`
	ThroughputPerHour      Throughput              `json:"throughput_per_hour"`
	AverageDelayPerVehicle float64                 `json:"average_delay_per_vehicle"`
	TotalStops             int                     `json:"total_stops"`
	MaxQueueLength         int                     `json:"max_queue_length"`
	AverageQueueLength     float64                 `json:"average_queue_length"`
	CarbonEmissions        Emissions               `json:"carbon_emissions"`
	TotalEnergyKWh         float64                 `json:"total_energy_kwh"`
	EnergyEfficiency       float64                 `json:"energy_efficiency"`
	ByVehicleType          map[string]ClassMetrics `json:"by_vehicle_type,omitempty"`
}

// Aggregate computes metrics with the default factor tables.
func Aggregate(in Input) Metrics {
	return AggregateWith(in, DefaultFactors())
}

// AggregateWith computes metrics with explicit factor tables.
func AggregateWith(in Input, f Factors) Metrics {
	hours := durationHours(in.Timestamps)
	vehicles := len(in.Passages)

	m := Metrics{
		DurationHours:     hours,
		VehiclesPassed:    vehicles,
		PedestriansPassed: in.PassedPedestrians,
		ForcedPassages:    lo.CountBy(in.Passages, func(p kinematics.Passage) bool { return p.Forced }),
		ThroughputPerHour: Throughput{
			Vehicles:    float64(vehicles) / hours,
			Pedestrians: float64(in.PassedPedestrians) / hours,
			Total:       float64(vehicles+in.PassedPedestrians) / hours,
		},
		TotalStops: lo.SumBy(in.Passages, func(p kinematics.Passage) int { return p.Stops }),
	}

	if vehicles > 0 {
		wait := lo.SumBy(in.Passages, func(p kinematics.Passage) float64 { return p.WaitSeconds })
		m.AverageDelayPerVehicle = wait / float64(vehicles)
	}
	if len(in.QueueLengths) > 0 {
		m.MaxQueueLength = lo.Max(in.QueueLengths)
		m.AverageQueueLength = float64(lo.Sum(in.QueueLengths)) / float64(len(in.QueueLengths))
	}

	byClass := lo.GroupBy(in.Passages, func(p kinematics.Passage) string { return vehicleClass(p.Type) })
	if len(byClass) > 0 {
		m.ByVehicleType = make(map[string]ClassMetrics, len(byClass))
	}
	for class, passages := range byClass {
		cm := ClassMetrics{Vehicles: len(passages)}
		for _, p := range passages {
			e, kwh := footprint(p, f)
			cm.Emissions.CO2Kg += e.CO2Kg
			cm.Emissions.NOxG += e.NOxG
			cm.Emissions.ParticulatesG += e.ParticulatesG
			cm.EnergyKWh += kwh
		}
		m.ByVehicleType[class] = cm
	}

	// Totals are summed per passage in log order so they do not depend on
	// map iteration.
	for _, p := range in.Passages {
		e, kwh := footprint(p, f)
		m.CarbonEmissions.CO2Kg += e.CO2Kg
		m.CarbonEmissions.NOxG += e.NOxG
		m.CarbonEmissions.ParticulatesG += e.ParticulatesG
		m.TotalEnergyKWh += kwh
	}
	if vehicles > 0 {
		m.EnergyEfficiency = m.TotalEnergyKWh / float64(vehicles)
	}
	return m
}

func footprint(p kinematics.Passage, f Factors) (Emissions, float64) {
	class := vehicleClass(p.Type)
	stop := 1 + f.StopPenalty*float64(p.Stops)
	wait := 1 + f.WaitPenalty*p.WaitSeconds
	e := f.emission(class)
	scale := f.DistanceKM * stop * wait
	return Emissions{
		CO2Kg:         e.CO2KgPerKM * scale,
		NOxG:          e.NOxGPerKM * scale,
		ParticulatesG: e.ParticulatesGPerKM * scale,
	}, f.energy(class) * f.DistanceKM * stop
}

func vehicleClass(t string) string {
	if t == "" {
		return DefaultClass
	}
	return t
}

func durationHours(ts []scenario.Timestamp) float64 {
	if len(ts) <= 1 {
		return MinDurationHours
	}
	hours := ts[len(ts)-1].Sub(ts[0]).Hours()
	if hours <= 0 {
		return MinDurationHours
	}
	return hours
}
