package scenario

import (
	"fmt"
	"strings"
	"time"
)

const zonelessLayout = "2006-01-02T15:04:05.999999999"

// Timestamp is a virtual-clock instant as carried by scenario documents.
// Upstream documents use the zone-less ISO form; zoned RFC 3339 input is also
// accepted and round-trips with its zone.
type Timestamp struct {
	t        time.Time
	zoneless bool
}

// NewTimestamp wraps t. The result marshals in RFC 3339 form.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t}
}

// ParseTimestamp parses RFC 3339 or zone-less ISO timestamps.
func ParseTimestamp(raw string) (Timestamp, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Timestamp{}, fmt.Errorf("timestamp is empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return Timestamp{t: t}, nil
	}
	t, err := time.ParseInLocation(zonelessLayout, raw, time.UTC)
	if err != nil {
		return Timestamp{}, fmt.Errorf("unparsable timestamp %q", raw)
	}
	return Timestamp{t: t, zoneless: true}, nil
}

// MustParseTimestamp is ParseTimestamp for fixtures; it panics on bad input.
func MustParseTimestamp(raw string) Timestamp {
	ts, err := ParseTimestamp(raw)
	if err != nil {
		panic(err)
	}
	return ts
}

func (ts Timestamp) Time() time.Time { return ts.t }

func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

// Add keeps the textual form of the receiver.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp{t: ts.t.Add(d), zoneless: ts.zoneless}
}

func (ts Timestamp) Sub(other Timestamp) time.Duration { return ts.t.Sub(other.t) }

func (ts Timestamp) Before(other Timestamp) bool { return ts.t.Before(other.t) }

func (ts Timestamp) After(other Timestamp) bool { return ts.t.After(other.t) }

func (ts Timestamp) Equal(other Timestamp) bool { return ts.t.Equal(other.t) }

func (ts Timestamp) String() string {
	if ts.zoneless {
		return ts.t.Format(zonelessLayout)
	}
	return ts.t.Format(time.RFC3339Nano)
}

// MarshalText implements encoding.TextMarshaler.
func (ts Timestamp) MarshalText() ([]byte, error) {
	if ts.t.IsZero() {
		return []byte{}, nil
	}
	return []byte(ts.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ts *Timestamp) UnmarshalText(raw []byte) error {
	parsed, err := ParseTimestamp(string(raw))
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
