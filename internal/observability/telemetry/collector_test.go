package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestCollectorSinkPostsRunTaggedRecords(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		routes  []string
		records []collectorRecord
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec collectorRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		routes = append(routes, r.URL.Path)
		records = append(records, rec)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink, err := NewCollectorSink(CollectorConfig{Endpoint: server.URL + "/otel/"})
	if err != nil {
		t.Fatalf("unexpected sink error: %v", err)
	}

	run := Correlation{RunID: "run-7", Scenario: "morning", Policy: "fixed_cycle", Tick: 3}
	events := []Event{
		{Kind: EventKindLog, Correlation: run, Log: &LogEvent{Name: "signal_changed", Severity: SeverityInfo}},
		{Kind: EventKindMetric, Correlation: run, Metric: &MetricEvent{Name: MetricQueueLength, Value: 4}},
		{Kind: EventKindSpan, Correlation: run, Span: &SpanEvent{Name: "policy_decision"}},
	}
	for _, event := range events {
		if err := sink.Export(context.Background(), event); err != nil {
			t.Fatalf("export %s: %v", event.Kind, err)
		}
	}

	wantRoutes := []string{"/otel/v1/logs", "/otel/v1/metrics", "/otel/v1/traces"}
	if len(routes) != len(wantRoutes) {
		t.Fatalf("expected %d posts, got %v", len(wantRoutes), routes)
	}
	for i, want := range wantRoutes {
		if routes[i] != want {
			t.Fatalf("post %d: expected route %s, got %s", i, want, routes[i])
		}
		res := records[i].Resource
		if res.ServiceName != defaultServiceName || res.RunID != "run-7" || res.Scenario != "morning" || res.Policy != "fixed_cycle" {
			t.Fatalf("post %d: unexpected resource %+v", i, res)
		}
	}
	if records[1].Event.Metric == nil || records[1].Event.Metric.Value != 4 {
		t.Fatalf("expected metric payload, got %+v", records[1].Event)
	}
}

func TestCollectorSinkReportsRejectedStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink, err := NewCollectorSink(CollectorConfig{Endpoint: server.URL, ServiceName: "sigsim-ci"})
	if err != nil {
		t.Fatalf("unexpected sink error: %v", err)
	}
	err = sink.Export(context.Background(), Event{Kind: EventKindLog, Log: &LogEvent{Name: "run_failed"}})
	var statusErr *CollectorStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected CollectorStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable || statusErr.Route != "/v1/logs" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}

func TestNewCollectorSinkRejectsEndpoints(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "localhost:4318", "ftp://collector", "http://"} {
		if _, err := NewCollectorSink(CollectorConfig{Endpoint: endpoint}); err == nil {
			t.Fatalf("expected endpoint %q to be rejected", endpoint)
		}
	}
}
