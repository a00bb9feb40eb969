package domain

import "encoding/json"

// QueuedRequest is one pending delivery: a JSON payload bound for a
// collector endpoint. Immutable once enqueued. Seq is assigned by the queue
// on enqueue and orders delivery.
type QueuedRequest struct {
	Seq      int64
	Endpoint string
	Payload  json.RawMessage
}

// StreamRegistration records a stream the client intends to queue events
// for. Registrations are replayed on every (re)connection so the collector
// has a matching stream before any queued item referencing it arrives.
// Replay is idempotent: the collector creates the stream only if missing.
type StreamRegistration struct {
	ID   string
	Type string
}

// CreateStreamPayload is the wire payload for stream creation.
type CreateStreamPayload struct {
	Client   string `json:"client"`
	Hostname string `json:"hostname"`
	Type     string `json:"type"`
}
