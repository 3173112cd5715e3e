package telemetry

import (
	"context"
	"sync"
)

// MemorySink is a deterministic in-memory sink used by tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]Event, 0, 64)}
}

// Export appends an event in memory.
func (s *MemorySink) Export(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all exported events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Logs returns exported log events with the given name, in export order.
func (s *MemorySink) Logs(name string) []LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LogEvent
	for _, event := range s.events {
		if event.Log != nil && event.Log.Name == name {
			out = append(out, *event.Log)
		}
	}
	return out
}

// Metrics returns exported metric samples with the given name.
func (s *MemorySink) Metrics(name string) []MetricEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MetricEvent
	for _, event := range s.events {
		if event.Metric != nil && event.Metric.Name == name {
			out = append(out, *event.Metric)
		}
	}
	return out
}

// Recorder is a synchronous Emitter that writes straight into a MemorySink.
// Tests use it when they need events visible without closing a pipeline.
type Recorder struct {
	Sink *MemorySink
}

// NewRecorder returns a recorder over a fresh memory sink.
func NewRecorder() *Recorder {
	return &Recorder{Sink: NewMemorySink()}
}

func (r *Recorder) EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation Correlation) {
	_ = r.Sink.Export(context.Background(), Event{
		Kind:        EventKindMetric,
		TimestampMS: correlation.VirtualTimestampMS,
		Correlation: normalizeCorrelation(correlation),
		Metric:      &MetricEvent{Name: name, Value: value, Unit: unit, Attributes: cloneAttributes(attributes)},
	})
}

func (r *Recorder) EmitSpan(name, kind string, startMS, endMS int64, attributes map[string]string, correlation Correlation) {
	_ = r.Sink.Export(context.Background(), Event{
		Kind:        EventKindSpan,
		TimestampMS: correlation.VirtualTimestampMS,
		Correlation: normalizeCorrelation(correlation),
		Span:        &SpanEvent{Name: name, Kind: kind, StartMS: startMS, EndMS: endMS, Attributes: cloneAttributes(attributes)},
	})
}

func (r *Recorder) EmitLog(name, severity, message string, attributes map[string]string, correlation Correlation) {
	_ = r.Sink.Export(context.Background(), Event{
		Kind:        EventKindLog,
		TimestampMS: correlation.VirtualTimestampMS,
		Correlation: normalizeCorrelation(correlation),
		Log:         &LogEvent{Name: name, Severity: severity, Message: message, Attributes: cloneAttributes(attributes)},
	})
}
