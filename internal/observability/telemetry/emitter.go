package telemetry

import "sync/atomic"

// Emitter defines a non-blocking telemetry emission handle.
type Emitter interface {
	EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation Correlation)
	EmitSpan(name, kind string, startMS, endMS int64, attributes map[string]string, correlation Correlation)
	EmitLog(name, severity, message string, attributes map[string]string, correlation Correlation)
}

type noopEmitter struct{}

func (noopEmitter) EmitMetric(string, float64, string, map[string]string, Correlation)    {}
func (noopEmitter) EmitSpan(string, string, int64, int64, map[string]string, Correlation) {}
func (noopEmitter) EmitLog(string, string, string, map[string]string, Correlation)        {}

type emitterHolder struct {
	emitter Emitter
}

var globalEmitter atomic.Value

func init() {
	globalEmitter.Store(emitterHolder{emitter: noopEmitter{}})
}

// SetDefaultEmitter replaces the process-local default telemetry emitter.
func SetDefaultEmitter(emitter Emitter) {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	globalEmitter.Store(emitterHolder{emitter: emitter})
}

// DefaultEmitter returns the process-local default telemetry emitter.
func DefaultEmitter() Emitter {
	holder, ok := globalEmitter.Load().(emitterHolder)
	if !ok || holder.emitter == nil {
		return noopEmitter{}
	}
	return holder.emitter
}

// Scope binds an emitter to the correlation of one run so call sites only
// supply what changes per event.
type Scope struct {
	Emitter     Emitter
	Correlation Correlation
}

// NewScope returns a scope on emitter, falling back to the default emitter.
func NewScope(emitter Emitter, correlation Correlation) Scope {
	if emitter == nil {
		emitter = DefaultEmitter()
	}
	return Scope{Emitter: emitter, Correlation: correlation}
}

// At returns a copy of the scope stamped with a tick and virtual time.
func (s Scope) At(tick int, virtualMS int64) Scope {
	s.Correlation.Tick = tick
	s.Correlation.VirtualTimestampMS = virtualMS
	return s
}

func (s Scope) emitter() Emitter {
	if s.Emitter == nil {
		return DefaultEmitter()
	}
	return s.Emitter
}

// Info emits an info log.
func (s Scope) Info(name, message string, attributes map[string]string) {
	s.emitter().EmitLog(name, SeverityInfo, message, attributes, s.Correlation)
}

// Warn emits a warning log.
func (s Scope) Warn(name, message string, attributes map[string]string) {
	s.emitter().EmitLog(name, SeverityWarn, message, attributes, s.Correlation)
}

// Debug emits a debug log; subject to pipeline sampling.
func (s Scope) Debug(name, message string, attributes map[string]string) {
	s.emitter().EmitLog(name, SeverityDebug, message, attributes, s.Correlation)
}

// Metric emits one metric sample.
func (s Scope) Metric(name string, value float64, unit string, attributes map[string]string) {
	s.emitter().EmitMetric(name, value, unit, attributes, s.Correlation)
}

// Span emits a span covering [startMS, endMS].
func (s Scope) Span(name, kind string, startMS, endMS int64, attributes map[string]string) {
	s.emitter().EmitSpan(name, kind, startMS, endMS, attributes, s.Correlation)
}
