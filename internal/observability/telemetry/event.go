package telemetry

import "strings"

const (
	// MetricQueueLength samples the stopped-vehicle queue at the end of a tick.
	MetricQueueLength = "queue_length"
	// MetricVehiclesPassed counts vehicles that cleared the stop line.
	MetricVehiclesPassed = "vehicles_passed"
	// MetricPedestriansPassed counts pedestrians that completed a crossing.
	MetricPedestriansPassed = "pedestrians_passed"
	// MetricSignalChanges counts applied signal configurations.
	MetricSignalChanges = "signal_changes_total"
	// MetricPolicyLatencyMS captures wall-clock latency of one policy decision.
	MetricPolicyLatencyMS = "policy_latency_ms"
	// MetricStallsTotal counts runs terminated by the stall detector.
	MetricStallsTotal = "stalls_total"
	// MetricRunTicks captures the number of ticks executed by a finished run.
	MetricRunTicks = "run_ticks"
	// MetricDropsTotal captures total dropped telemetry events.
	MetricDropsTotal = "drops_total"
)

// Severity values accepted by EmitLog.
const (
	SeverityDebug = "debug"
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// EventKind defines telemetry payload kind.
type EventKind string

const (
	EventKindMetric EventKind = "metric"
	EventKindSpan   EventKind = "span"
	EventKindLog    EventKind = "log"
)

// Correlation ties an event to the run and tick that produced it.
type Correlation struct {
	RunID                string `json:"run_id,omitempty"`
	Scenario             string `json:"scenario,omitempty"`
	Policy               string `json:"policy,omitempty"`
	Tick                 int    `json:"tick,omitempty"`
	VirtualTimestampMS   int64  `json:"virtual_timestamp_ms,omitempty"`
	EmittedBy            string `json:"emitted_by,omitempty"`
	WallClockTimestampMS int64  `json:"wall_clock_timestamp_ms,omitempty"`
}

// MetricEvent captures a metric sample payload.
type MetricEvent struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SpanEvent captures an OTel-friendly span payload.
type SpanEvent struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	StartMS    int64             `json:"start_ms"`
	EndMS      int64             `json:"end_ms"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// LogEvent captures a telemetry log payload.
type LogEvent struct {
	Name       string            `json:"name"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Event is the normalized telemetry emission envelope.
type Event struct {
	Kind        EventKind    `json:"kind"`
	TimestampMS int64        `json:"timestamp_ms"`
	Correlation Correlation  `json:"correlation"`
	Metric      *MetricEvent `json:"metric,omitempty"`
	Span        *SpanEvent   `json:"span,omitempty"`
	Log         *LogEvent    `json:"log,omitempty"`
}

func normalizeCorrelation(c Correlation) Correlation {
	if c.Tick < 0 {
		c.Tick = 0
	}
	c.VirtualTimestampMS = nonNegative(c.VirtualTimestampMS)
	c.WallClockTimestampMS = nonNegative(c.WallClockTimestampMS)
	c.RunID = strings.TrimSpace(c.RunID)
	c.Scenario = strings.TrimSpace(c.Scenario)
	c.Policy = strings.TrimSpace(c.Policy)
	c.EmittedBy = strings.TrimSpace(c.EmittedBy)
	return c
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func cloneAttributes(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
