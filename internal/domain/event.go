package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Event is a single timestamped record in a stream.
// A heartbeat is an Event resent periodically while some state is ongoing;
// consecutive heartbeats with identical Data are candidates for merging.
type Event struct {
	// ID is the collector-assigned identifier. Zero for events that have
	// not been stored remotely yet.
	ID int64

	// Timestamp is the start of the interval the event covers.
	Timestamp time.Time

	// Duration is the length of the interval. Zero for instantaneous events.
	Duration time.Duration

	// Data is the event payload. Must be JSON-serializable.
	Data map[string]any
}

// End returns the end of the interval the event covers.
func (e Event) End() time.Time {
	return e.Timestamp.Add(e.Duration)
}

// eventJSON is the wire representation used by the collector API:
// RFC 3339 timestamp and duration in seconds.
type eventJSON struct {
	ID        int64          `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  float64        `json:"duration"`
	Data      map[string]any `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Duration:  e.Duration.Seconds(),
		Data:      e.Data,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(b []byte) error {
	var ej eventJSON
	if err := json.Unmarshal(b, &ej); err != nil {
		return err
	}
	e.ID = ej.ID
	e.Timestamp = ej.Timestamp
	e.Duration = time.Duration(ej.Duration * float64(time.Second))
	e.Data = ej.Data
	return nil
}

// DataEqual reports whether two event payloads are identical.
// Payloads are compared by their canonical JSON encoding, which handles
// nested maps and slices uniformly.
func DataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// MergeHeartbeats merges next into last when both describe the same ongoing
// state. Two heartbeats are mergeable iff their payloads are identical and
// the gap between last's end and next's start is at most pulsetime. The
// merged event keeps last's start and extends its duration to cover next.
// Returns false when the events are not mergeable.
func MergeHeartbeats(last, next Event, pulsetime time.Duration) (Event, bool) {
	if !DataEqual(last.Data, next.Data) {
		return Event{}, false
	}
	gap := next.Timestamp.Sub(last.End())
	if gap > pulsetime {
		return Event{}, false
	}
	merged := last
	if d := next.End().Sub(last.Timestamp); d > merged.Duration {
		merged.Duration = d
	}
	return merged, true
}
