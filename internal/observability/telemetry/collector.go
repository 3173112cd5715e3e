package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultServiceName = "signal-sim"

// CollectorConfig points a CollectorSink at an OTLP/HTTP collector.
type CollectorConfig struct {
	// Endpoint is the collector base URL; signal paths are appended to it.
	Endpoint    string
	ServiceName string
	Client      *http.Client
}

// CollectorSink posts each event as JSON to the collector route for its
// kind, tagged with the run that produced it.
type CollectorSink struct {
	routes  map[EventKind]string
	service string
	client  *http.Client
}

// CollectorStatusError reports a collector reply outside 2xx.
type CollectorStatusError struct {
	Route      string
	StatusCode int
}

func (e *CollectorStatusError) Error() string {
	return fmt.Sprintf("collector %s replied %d", e.Route, e.StatusCode)
}

// NewCollectorSink resolves the per-kind routes under cfg.Endpoint.
func NewCollectorSink(cfg CollectorConfig) (*CollectorSink, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("collector endpoint: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("collector endpoint %q must be an http(s) URL with a host", cfg.Endpoint)
	}
	if !strings.HasPrefix(base.Path, "/") {
		base.Path = "/" + base.Path
	}

	routes := make(map[EventKind]string, 3)
	for kind, signal := range map[EventKind]string{
		EventKindMetric: "v1/metrics",
		EventKindSpan:   "v1/traces",
		EventKindLog:    "v1/logs",
	} {
		routes[kind] = base.JoinPath(signal).String()
	}

	s := &CollectorSink{routes: routes, service: strings.TrimSpace(cfg.ServiceName), client: cfg.Client}
	if s.service == "" {
		s.service = defaultServiceName
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	return s, nil
}

// collectorResource identifies the emitting process and run.
type collectorResource struct {
	ServiceName string `json:"service.name"`
	RunID       string `json:"sigsim.run_id,omitempty"`
	Scenario    string `json:"sigsim.scenario,omitempty"`
	Policy      string `json:"sigsim.policy,omitempty"`
}

type collectorRecord struct {
	Resource collectorResource `json:"resource"`
	Event    Event             `json:"event"`
}

// Export posts one event. Unknown kinds go to the log route.
func (s *CollectorSink) Export(ctx context.Context, event Event) error {
	route, ok := s.routes[event.Kind]
	if !ok {
		route = s.routes[EventKindLog]
	}
	body, err := json.Marshal(collectorRecord{
		Resource: collectorResource{
			ServiceName: s.service,
			RunID:       event.Correlation.RunID,
			Scenario:    event.Correlation.Scenario,
			Policy:      event.Correlation.Policy,
		},
		Event: event,
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("export %s event: %w", event.Kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &CollectorStatusError{Route: req.URL.Path, StatusCode: resp.StatusCode}
	}
	return nil
}
