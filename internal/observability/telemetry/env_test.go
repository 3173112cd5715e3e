package telemetry

import (
	"bytes"
	"strings"
	"testing"
)

func TestRuntimeConfigFromEnvDefaults(t *testing.T) {
	cfg, err := RuntimeConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected default env parse error: %v", err)
	}
	if !cfg.Enabled || cfg.QueueCapacity != 256 || cfg.LogSampleRate != 1 || cfg.ExportTimeoutMS != 200 ||
		!cfg.ConsoleEnabled || cfg.ConsoleSeverity != SeverityInfo || cfg.ServiceName != "signal-sim" {
		t.Fatalf("unexpected default config: %+v", cfg)
	}
}

func TestRuntimeConfigFromEnvRejectsInvalidValues(t *testing.T) {
	t.Run("invalid_enabled", func(t *testing.T) {
		t.Setenv(EnvTelemetryEnabled, "not-bool")
		if _, err := RuntimeConfigFromEnv(); err == nil {
			t.Fatalf("expected invalid enabled parse error")
		}
	})

	t.Run("invalid_queue_capacity", func(t *testing.T) {
		t.Setenv(EnvTelemetryQueueCapacity, "0")
		if _, err := RuntimeConfigFromEnv(); err == nil {
			t.Fatalf("expected queue capacity validation error")
		}
	})

	t.Run("invalid_sample_rate", func(t *testing.T) {
		t.Setenv(EnvTelemetryDropSampleRate, "-1")
		if _, err := RuntimeConfigFromEnv(); err == nil {
			t.Fatalf("expected sample rate validation error")
		}
	})

	t.Run("invalid_log_level", func(t *testing.T) {
		t.Setenv(EnvTelemetryLogLevel, "chatty")
		if _, err := RuntimeConfigFromEnv(); err == nil {
			t.Fatalf("expected log level validation error")
		}
	})

	t.Run("invalid_timeout", func(t *testing.T) {
		t.Setenv(EnvTelemetryExportTimeoutMS, "abc")
		if _, err := RuntimeConfigFromEnv(); err == nil {
			t.Fatalf("expected timeout validation error")
		}
	})
}

func TestNewPipelineFromEnv(t *testing.T) {
	t.Run("disabled_returns_nil", func(t *testing.T) {
		t.Setenv(EnvTelemetryEnabled, "false")
		pipeline, err := NewPipelineFromEnv(nil)
		if err != nil {
			t.Fatalf("unexpected disabled env error: %v", err)
		}
		if pipeline != nil {
			t.Fatalf("expected nil pipeline when telemetry disabled")
		}
	})

	t.Run("invalid_endpoint_fails", func(t *testing.T) {
		t.Setenv(EnvTelemetryEnabled, "true")
		t.Setenv(EnvTelemetryCollectorEndpoint, "localhost:4318")
		if _, err := NewPipelineFromEnv(nil); err == nil {
			t.Fatalf("expected invalid endpoint to fail")
		}
	})

	t.Run("enabled_without_endpoint_uses_local_pipeline", func(t *testing.T) {
		t.Setenv(EnvTelemetryEnabled, "true")
		t.Setenv(EnvTelemetryCollectorEndpoint, "")
		pipeline, err := NewPipelineFromEnv(nil)
		if err != nil {
			t.Fatalf("unexpected pipeline creation error: %v", err)
		}
		if pipeline == nil {
			t.Fatalf("expected non-nil pipeline when telemetry enabled")
		}
		if err := pipeline.Close(); err != nil {
			t.Fatalf("unexpected close error: %v", err)
		}
	})
}

func TestNewPipelineFromEnvWritesConsoleLogs(t *testing.T) {
	t.Setenv(EnvTelemetryEnabled, "true")
	t.Setenv(EnvTelemetryCollectorEndpoint, "")
	t.Setenv(EnvTelemetryLogLevel, "warn")

	var buf bytes.Buffer
	pipeline, err := NewPipelineFromEnv(&buf)
	if err != nil {
		t.Fatalf("unexpected pipeline creation error: %v", err)
	}
	pipeline.EmitLog("run_completed", SeverityInfo, "done", nil, Correlation{VirtualTimestampMS: 1})
	pipeline.EmitLog("stall_detected", SeverityWarn, "frozen", nil, Correlation{VirtualTimestampMS: 1})
	_ = pipeline.Close()

	out := buf.String()
	if strings.Contains(out, "run_completed") || !strings.Contains(out, "stall_detected") {
		t.Fatalf("unexpected console output: %q", out)
	}
}
