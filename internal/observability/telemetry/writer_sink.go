package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var severityRank = map[string]int{
	SeverityDebug: 0,
	SeverityInfo:  1,
	SeverityWarn:  2,
	SeverityError: 3,
}

// ParseSeverity normalizes a severity name. "off" returns ok=false.
func ParseSeverity(raw string) (string, bool, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return SeverityInfo, true, nil
	case "off", "none":
		return "", false, nil
	case "warning":
		return SeverityWarn, true, nil
	}
	if _, ok := severityRank[value]; !ok {
		return "", false, fmt.Errorf("unknown severity %q", raw)
	}
	return value, true, nil
}

// WriterSink renders log events as single text lines. Metrics and spans are
// ignored; they belong to the collector sink.
type WriterSink struct {
	mu          sync.Mutex
	w           io.Writer
	minSeverity string
}

// NewWriterSink writes log events at or above minSeverity to w.
func NewWriterSink(w io.Writer, minSeverity string) *WriterSink {
	if _, ok := severityRank[minSeverity]; !ok {
		minSeverity = SeverityInfo
	}
	return &WriterSink{w: w, minSeverity: minSeverity}
}

// Export writes one log line.
func (s *WriterSink) Export(_ context.Context, event Event) error {
	if event.Kind != EventKindLog || event.Log == nil {
		return nil
	}
	if severityRank[event.Log.Severity] < severityRank[s.minSeverity] {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", time.UnixMilli(event.TimestampMS).UTC().Format(time.RFC3339), strings.ToUpper(event.Log.Severity), event.Log.Name)
	if event.Correlation.RunID != "" {
		fmt.Fprintf(&b, " run=%s", event.Correlation.RunID)
	}
	if event.Correlation.Tick > 0 {
		fmt.Fprintf(&b, " tick=%d", event.Correlation.Tick)
	}
	if event.Log.Message != "" {
		fmt.Fprintf(&b, " msg=%q", event.Log.Message)
	}
	keys := make([]string, 0, len(event.Log.Attributes))
	for k := range event.Log.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, event.Log.Attributes[k])
	}
	b.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, b.String())
	return err
}

// FanoutSink exports every event to each of its sinks.
type FanoutSink []Sink

// Export forwards the event and joins sink failures.
func (f FanoutSink) Export(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Export(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
