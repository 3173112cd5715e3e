package httpdecision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tiger/intersection-signal-sim/internal/policy/delegating"
)

func TestDecideMapsHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		expected  Class
		retryable bool
	}{
		{name: "timeout", status: http.StatusGatewayTimeout, expected: ClassTimeout, retryable: true},
		{name: "overload", status: http.StatusTooManyRequests, expected: ClassOverload, retryable: true},
		{name: "blocked", status: http.StatusUnauthorized, expected: ClassBlocked, retryable: false},
		{name: "client", status: http.StatusBadRequest, expected: ClassBlocked, retryable: false},
		{name: "infra", status: http.StatusBadGateway, expected: ClassInfrastructureFailure, retryable: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"error":"nope"}`)
			}))
			defer ts.Close()

			d, err := New(Config{ProviderID: "decider-a", Endpoint: ts.URL})
			if err != nil {
				t.Fatalf("unexpected decider error: %v", err)
			}
			reply, err := d.Decide(context.Background(), delegating.Request{})
			var callErr *CallError
			if !errors.As(err, &callErr) {
				t.Fatalf("expected CallError, got %v", err)
			}
			if callErr.Outcome.Class != tc.expected || callErr.Outcome.Retryable != tc.retryable {
				t.Fatalf("unexpected outcome: %+v", callErr.Outcome)
			}
			if reply.Raw != `{"error":"nope"}` {
				t.Fatalf("expected captured payload, got %q", reply.Raw)
			}
		})
	}
}

func TestDecideSendsPromptAndHeaders(t *testing.T) {
	t.Parallel()

	var gotHeader, gotVersion, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("X-Version")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = io.WriteString(w, "```json\n{\"selected_configuration\":\"north_south\",\"duration_seconds\":45,\"justification\":\"queue\"}\n```")
	}))
	defer ts.Close()

	d, err := New(Config{
		ProviderID:    "decider-a",
		Endpoint:      ts.URL,
		APIKey:        "secret",
		APIKeyHeader:  "Authorization",
		APIKeyPrefix:  "Bearer ",
		StaticHeaders: map[string]string{"X-Version": "1"},
	})
	if err != nil {
		t.Fatalf("unexpected decider error: %v", err)
	}
	reply, err := d.Decide(context.Background(), delegating.Request{Tick: 3, MaxWait: 4})
	if err != nil {
		t.Fatalf("unexpected decide error: %v", err)
	}
	if reply.SelectedConfiguration != "north_south" || reply.DurationSeconds != 45 || reply.Justification != "queue" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if !strings.Contains(reply.Raw, "north_south") {
		t.Fatalf("expected raw text kept, got %q", reply.Raw)
	}
	if gotHeader != "Bearer secret" || gotVersion != "1" {
		t.Fatalf("unexpected headers: %q %q", gotHeader, gotVersion)
	}
	var body struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal([]byte(gotBody), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Messages) != 2 || body.Messages[0].Role != "system" || !strings.Contains(body.Messages[1].Content, "Tick 3") {
		t.Fatalf("unexpected request body: %s", gotBody)
	}
}

func TestDecideTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	d, err := New(Config{ProviderID: "decider-a", Endpoint: ts.URL, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected decider error: %v", err)
	}
	_, err = d.Decide(context.Background(), delegating.Request{})
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Outcome.Class != ClassTimeout {
		t.Fatalf("expected timeout outcome, got %v", err)
	}
}

func TestDecideRejectsMalformedReply(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "I think north_south is best")
	}))
	defer ts.Close()

	d, err := New(Config{ProviderID: "decider-a", Endpoint: ts.URL})
	if err != nil {
		t.Fatalf("unexpected decider error: %v", err)
	}
	reply, err := d.Decide(context.Background(), delegating.Request{})
	if !errors.Is(err, ErrMalformedReply) {
		t.Fatalf("expected ErrMalformedReply, got %v", err)
	}
	if reply.Raw != "I think north_south is best" {
		t.Fatalf("expected raw text on failure, got %q", reply.Raw)
	}
}

func TestDecideRequiresEndpoint(t *testing.T) {
	t.Parallel()

	d, err := New(Config{ProviderID: "decider-a"})
	if err != nil {
		t.Fatalf("unexpected decider error: %v", err)
	}
	if _, err := d.Decide(context.Background(), delegating.Request{}); !errors.Is(err, ErrEndpointMissing) {
		t.Fatalf("expected ErrEndpointMissing, got %v", err)
	}
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing provider id to fail")
	}
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`{"a":1}`:                     `{"a":1}`,
		"```json\n{\"a\":1}\n```":     `{"a":1}`,
		"```\n{\"a\":1}\n```":         `{"a":1}`,
		"```{\"a\":1}```":             `{"a":1}`,
		"Here:\n```json\n{}\n```\nok": `{}`,
	}
	for in, want := range cases {
		if got := StripFences(in); got != want {
			t.Fatalf("StripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeStatusBackoff(t *testing.T) {
	t.Parallel()

	if got := NormalizeStatus(http.StatusTooManyRequests, "3").BackoffMS; got != 3000 {
		t.Fatalf("expected 3000ms backoff, got %d", got)
	}
	if got := NormalizeStatus(http.StatusTooManyRequests, "").BackoffMS; got != 500 {
		t.Fatalf("expected default backoff, got %d", got)
	}
}

func TestCallErrorReportsRetryHints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *CallError
		want string
	}{
		{
			name: "overload with backoff",
			err:  &CallError{ProviderID: "p", Outcome: NormalizeStatus(http.StatusTooManyRequests, "2")},
			want: "decision provider p: overload (provider_overload, status 429, retryable, retry after 2000ms)",
		},
		{
			name: "transport failure",
			err:  &CallError{ProviderID: "p", Outcome: Outcome{Class: ClassInfrastructureFailure, Retryable: true, Reason: "provider_transport_error"}},
			want: "decision provider p: infrastructure_failure (provider_transport_error, retryable)",
		},
		{
			name: "blocked",
			err:  &CallError{ProviderID: "p", Outcome: NormalizeStatus(http.StatusUnauthorized, "")},
			want: "decision provider p: blocked (provider_auth_or_policy_block, status 401)",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("unexpected error text:\n got %q\nwant %q", got, tc.want)
			}
		})
	}
}
