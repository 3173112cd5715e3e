package httpdecision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tiger/intersection-signal-sim/internal/policy/delegating"
	"github.com/tiger/intersection-signal-sim/providers/decision/prompt"
)

// Class is the normalized outcome of one decision call.
type Class string

const (
	ClassSuccess               Class = "success"
	ClassTimeout               Class = "timeout"
	ClassOverload              Class = "overload"
	ClassBlocked               Class = "blocked"
	ClassCancelled             Class = "cancelled"
	ClassInfrastructureFailure Class = "infrastructure_failure"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 64 * 1024
	captureMaxBytes         = 2048
)

var (
	// ErrEndpointMissing is returned when no endpoint is configured.
	ErrEndpointMissing = errors.New("decision endpoint is required")
	// ErrMalformedReply is returned when the response cannot be decoded into a reply.
	ErrMalformedReply = errors.New("malformed decision reply")
)

// Outcome is a normalized HTTP result. Retryable and BackoffMS are
// informational: decisions are never retried, they are reported in CallError.
type Outcome struct {
	Class      Class
	StatusCode int
	Retryable  bool
	Reason     string
	BackoffMS  int64
}

// CallError reports a non-successful decision call.
type CallError struct {
	ProviderID string
	Outcome    Outcome
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "decision provider %s: %s (%s", e.ProviderID, e.Outcome.Class, e.Outcome.Reason)
	if e.Outcome.StatusCode != 0 {
		fmt.Fprintf(&b, ", status %d", e.Outcome.StatusCode)
	}
	if e.Outcome.Retryable {
		b.WriteString(", retryable")
	}
	if e.Outcome.BackoffMS > 0 {
		fmt.Fprintf(&b, ", retry after %dms", e.Outcome.BackoffMS)
	}
	b.WriteByte(')')
	return b.String()
}

// Message is one chat turn of a request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures a JSON-over-HTTP decider.
type Config struct {
	ProviderID       string
	Endpoint         string
	Method           string
	APIKey           string
	APIKeyHeader     string
	APIKeyPrefix     string
	QueryAPIKeyParam string
	StaticHeaders    map[string]string
	Timeout          time.Duration
	MaxResponseBytes int
	Prompt           prompt.Renderer
	// BuildBody shapes the request body from the rendered prompt.
	BuildBody func(system, user string) any
	// ExtractText pulls the model text out of a successful response body.
	ExtractText func(body []byte) (string, error)
	HTTPClient  *http.Client
}

// Decider implements delegating.Decider against an HTTP endpoint.
type Decider struct {
	cfg    Config
	client *http.Client
}

// New constructs a decider.
func New(cfg Config) (*Decider, error) {
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("provider_id is required")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBytes < 1 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.BuildBody == nil {
		cfg.BuildBody = func(system, user string) any {
			return map[string]any{"messages": []Message{{Role: "system", Content: system}, {Role: "user", Content: user}}}
		}
	}
	if cfg.ExtractText == nil {
		cfg.ExtractText = func(body []byte) (string, error) { return string(body), nil }
	}
	if cfg.StaticHeaders == nil {
		cfg.StaticHeaders = map[string]string{}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Decider{cfg: cfg, client: client}, nil
}

// ProviderID returns the provider identity.
func (d *Decider) ProviderID() string { return d.cfg.ProviderID }

// Decide renders req, performs one call, and decodes the reply. Failed calls
// return a Reply whose Raw field holds the captured response.
func (d *Decider) Decide(ctx context.Context, req delegating.Request) (delegating.Reply, error) {
	if d.cfg.Endpoint == "" {
		return delegating.Reply{}, ErrEndpointMissing
	}
	user, err := d.cfg.Prompt.Render(req)
	if err != nil {
		return delegating.Reply{}, err
	}
	body, err := json.Marshal(d.cfg.BuildBody(prompt.System, user))
	if err != nil {
		return delegating.Reply{}, err
	}

	endpoint := d.cfg.Endpoint
	if d.cfg.QueryAPIKeyParam != "" && d.cfg.APIKey != "" {
		endpoint, err = withQuery(endpoint, d.cfg.QueryAPIKeyParam, d.cfg.APIKey)
		if err != nil {
			return delegating.Reply{}, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, d.cfg.Method, endpoint, bytes.NewReader(body))
	if err != nil {
		return delegating.Reply{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKeyHeader != "" && d.cfg.APIKey != "" {
		httpReq.Header.Set(d.cfg.APIKeyHeader, d.cfg.APIKeyPrefix+d.cfg.APIKey)
	}
	for key, value := range d.cfg.StaticHeaders {
		httpReq.Header.Set(key, value)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return delegating.Reply{Raw: fmt.Sprintf("network_error=%v", err)}, &CallError{ProviderID: d.cfg.ProviderID, Outcome: normalizeNetworkError(err)}
	}
	defer resp.Body.Close()

	payload, truncated, readErr := readBodySample(resp.Body, d.cfg.MaxResponseBytes)
	if readErr != nil {
		return delegating.Reply{Raw: fmt.Sprintf("response_read_error=%v", readErr)}, &CallError{
			ProviderID: d.cfg.ProviderID,
			Outcome:    Outcome{Class: ClassInfrastructureFailure, StatusCode: resp.StatusCode, Retryable: true, Reason: "provider_read_error"},
		}
	}
	outcome := normalizeStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
	if outcome.Class != ClassSuccess {
		return delegating.Reply{Raw: capture(payload)}, &CallError{ProviderID: d.cfg.ProviderID, Outcome: outcome}
	}
	if truncated {
		return delegating.Reply{Raw: capture(payload)}, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformedReply, d.cfg.MaxResponseBytes)
	}

	text, err := d.cfg.ExtractText(payload)
	if err != nil {
		return delegating.Reply{Raw: capture(payload)}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	return DecodeReply(text)
}

// DecodeReply parses model text into a reply. Fenced code blocks are accepted.
func DecodeReply(text string) (delegating.Reply, error) {
	var reply delegating.Reply
	if err := json.Unmarshal([]byte(StripFences(text)), &reply); err != nil {
		return delegating.Reply{Raw: text}, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	reply.Raw = text
	return reply, nil
}

// StripFences returns the contents of the first ``` block, or text trimmed
// when there is none.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	rest := trimmed[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func withQuery(rawEndpoint string, key string, value string) (string, error) {
	u, err := url.Parse(rawEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func normalizeNetworkError(err error) Outcome {
	if errors.Is(err, context.Canceled) {
		return Outcome{Class: ClassCancelled, Reason: "provider_cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Class: ClassTimeout, Retryable: true, Reason: "provider_timeout"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Outcome{Class: ClassTimeout, Retryable: true, Reason: "provider_timeout"}
	}
	return Outcome{Class: ClassInfrastructureFailure, Retryable: true, Reason: "provider_transport_error"}
}

func normalizeStatus(status int, retryAfter string) Outcome {
	outcome := Outcome{StatusCode: status}
	switch {
	case status >= 200 && status <= 299:
		outcome.Class = ClassSuccess
	case status == http.StatusTooManyRequests:
		outcome.Class = ClassOverload
		outcome.Retryable = true
		outcome.Reason = "provider_overload"
		outcome.BackoffMS = retryAfterToMS(retryAfter)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		outcome.Class = ClassTimeout
		outcome.Retryable = true
		outcome.Reason = "provider_timeout"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		outcome.Class = ClassBlocked
		outcome.Reason = "provider_auth_or_policy_block"
	case status >= 400 && status <= 499:
		outcome.Class = ClassBlocked
		outcome.Reason = "provider_client_error"
	default:
		outcome.Class = ClassInfrastructureFailure
		outcome.Retryable = true
		outcome.Reason = "provider_server_error"
	}
	return outcome
}

func retryAfterToMS(retryAfter string) int64 {
	seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || seconds < 1 {
		return 500
	}
	return int64(seconds) * 1000
}

func readBodySample(reader io.Reader, maxBytes int) ([]byte, bool, error) {
	payload, err := io.ReadAll(io.LimitReader(reader, int64(maxBytes+1)))
	if err != nil {
		return nil, false, err
	}
	if len(payload) > maxBytes {
		return payload[:maxBytes], true, nil
	}
	return payload, false, nil
}

func capture(raw []byte) string {
	sample := raw
	if len(sample) > captureMaxBytes {
		sample = sample[:captureMaxBytes]
	}
	if !utf8.Valid(sample) {
		return fmt.Sprintf("binary bytes=%d", len(raw))
	}
	return string(sample)
}

// NormalizeStatus maps an HTTP status and Retry-After header to an outcome.
func NormalizeStatus(status int, retryAfter string) Outcome {
	return normalizeStatus(status, retryAfter)
}
