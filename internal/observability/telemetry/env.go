package telemetry

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvTelemetryEnabled toggles telemetry emission.
	EnvTelemetryEnabled = "SIGSIM_TELEMETRY_ENABLED"
	// EnvTelemetryCollectorEndpoint sets the OTLP/HTTP collector base URL.
	EnvTelemetryCollectorEndpoint = "SIGSIM_TELEMETRY_COLLECTOR_ENDPOINT"
	// EnvTelemetryQueueCapacity sets in-memory queue capacity.
	EnvTelemetryQueueCapacity = "SIGSIM_TELEMETRY_QUEUE_CAPACITY"
	// EnvTelemetryDropSampleRate sets deterministic debug-log sample rate.
	EnvTelemetryDropSampleRate = "SIGSIM_TELEMETRY_DROP_SAMPLE_RATE"
	// EnvTelemetryExportTimeoutMS sets export timeout in milliseconds.
	EnvTelemetryExportTimeoutMS = "SIGSIM_TELEMETRY_EXPORT_TIMEOUT_MS"
	// EnvTelemetryLogLevel sets the minimum severity written to the console; "off" silences it.
	EnvTelemetryLogLevel = "SIGSIM_TELEMETRY_LOG_LEVEL"
	// EnvTelemetryServiceName overrides the service name reported to the collector.
	EnvTelemetryServiceName = "SIGSIM_TELEMETRY_SERVICE_NAME"
)

// RuntimeConfig captures env-configured telemetry settings.
type RuntimeConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	QueueCapacity     int
	LogSampleRate     int
	ExportTimeoutMS   int
	ConsoleSeverity   string
	ConsoleEnabled    bool
}

// RuntimeConfigFromEnv parses telemetry config from environment.
func RuntimeConfigFromEnv() (RuntimeConfig, error) {
	cfg := RuntimeConfig{
		Enabled:           true,
		CollectorEndpoint: strings.TrimSpace(os.Getenv(EnvTelemetryCollectorEndpoint)),
		ServiceName:       strings.TrimSpace(os.Getenv(EnvTelemetryServiceName)),
		QueueCapacity:     256,
		LogSampleRate:     1,
		ExportTimeoutMS:   200,
	}

	if raw := strings.TrimSpace(os.Getenv(EnvTelemetryEnabled)); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("%s parse error: %w", EnvTelemetryEnabled, err)
		}
		cfg.Enabled = enabled
	}
	var err error
	if cfg.QueueCapacity, err = positiveIntEnv(EnvTelemetryQueueCapacity, cfg.QueueCapacity); err != nil {
		return RuntimeConfig{}, err
	}
	if cfg.LogSampleRate, err = positiveIntEnv(EnvTelemetryDropSampleRate, cfg.LogSampleRate); err != nil {
		return RuntimeConfig{}, err
	}
	if cfg.ExportTimeoutMS, err = positiveIntEnv(EnvTelemetryExportTimeoutMS, cfg.ExportTimeoutMS); err != nil {
		return RuntimeConfig{}, err
	}
	cfg.ConsoleSeverity, cfg.ConsoleEnabled, err = ParseSeverity(os.Getenv(EnvTelemetryLogLevel))
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("%s: %w", EnvTelemetryLogLevel, err)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}

	return cfg, nil
}

func positiveIntEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be integer >=1", key)
	}
	return v, nil
}

// NewPipelineFromEnv creates a telemetry pipeline from environment settings.
// Console logs go to console when it is non-nil. Returns nil when disabled.
func NewPipelineFromEnv(console io.Writer) (*Pipeline, error) {
	cfg, err := RuntimeConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	var sinks FanoutSink
	if console != nil && cfg.ConsoleEnabled {
		sinks = append(sinks, NewWriterSink(console, cfg.ConsoleSeverity))
	}
	if cfg.CollectorEndpoint != "" {
		collector, err := NewCollectorSink(CollectorConfig{
			Endpoint:    cfg.CollectorEndpoint,
			ServiceName: cfg.ServiceName,
			Client:      &http.Client{Timeout: time.Duration(cfg.ExportTimeoutMS) * time.Millisecond},
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, collector)
	}

	var sink Sink = discardSink{}
	switch len(sinks) {
	case 0:
	case 1:
		sink = sinks[0]
	default:
		sink = sinks
	}

	return NewPipeline(sink, Config{
		QueueCapacity: cfg.QueueCapacity,
		LogSampleRate: cfg.LogSampleRate,
		ExportTimeout: time.Duration(cfg.ExportTimeoutMS) * time.Millisecond,
	}), nil
}
