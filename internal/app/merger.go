package app

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pulselabs/pulseclient/internal/domain"
	"github.com/pulselabs/pulseclient/internal/ports"
)

// HeartbeatEndpoint returns the collector endpoint for a heartbeat. The
// pulsetime travels in the query string so the collector applies the same
// merge window server-side.
func HeartbeatEndpoint(streamID string, pulsetime time.Duration) string {
	return fmt.Sprintf("streams/%s/heartbeat?pulsetime=%s",
		streamID, strconv.FormatFloat(pulsetime.Seconds(), 'g', -1, 64))
}

// Merger coalesces heartbeats per stream before they reach the durable
// queue. Each stream has at most one pending heartbeat, held in memory
// only; a crash loses at most one commit interval of pending data per
// stream, which is the documented trade for not writing every heartbeat.
type Merger struct {
	queue  ports.RequestQueue
	logger ports.Logger

	mu    sync.Mutex
	slots map[string]*streamSlot
}

// streamSlot serializes merges for one stream id. No two merges for the
// same stream run concurrently; different streams do not contend.
type streamSlot struct {
	mu       sync.Mutex
	pending  *domain.Event
	endpoint string
}

// NewMerger creates a merge engine writing flushed heartbeats to queue.
func NewMerger(queue ports.RequestQueue, logger ports.Logger) *Merger {
	return &Merger{
		queue:  queue,
		logger: logger,
		slots:  make(map[string]*streamSlot),
	}
}

func (m *Merger) slot(streamID string) *streamSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[streamID]
	if !ok {
		s = &streamSlot{}
		m.slots[streamID] = s
	}
	return s
}

// Submit offers a heartbeat for merging.
//
// With no pending heartbeat for the stream, the event is held and nothing
// is queued. When the event merges into the pending one, the merged event
// stays pending until its duration reaches commitInterval, at which point
// it is flushed and the incoming event starts a fresh accumulation window.
// When the merge is rejected (payload differs or the gap exceeds
// pulsetime), the previous pending event is flushed as-is and the incoming
// event becomes pending.
func (m *Merger) Submit(streamID string, ev domain.Event, pulsetime, commitInterval time.Duration) error {
	s := m.slot(streamID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endpoint = HeartbeatEndpoint(streamID, pulsetime)

	if s.pending == nil {
		s.pending = &ev
		return nil
	}

	merged, ok := domain.MergeHeartbeats(*s.pending, ev, pulsetime)
	if !ok {
		prev := *s.pending
		s.pending = &ev
		m.logger.Debug("heartbeat not mergeable, flushing previous",
			ports.String("stream", streamID))
		return m.flush(s.endpoint, prev)
	}

	if merged.Duration >= commitInterval {
		s.pending = &ev
		m.logger.Debug("commit interval reached, flushing merged heartbeat",
			ports.String("stream", streamID),
			ports.Duration("span", merged.Duration))
		return m.flush(s.endpoint, merged)
	}

	s.pending = &merged
	return nil
}

// FlushAll drains every pending heartbeat into the durable queue. Called on
// disconnect so a clean shutdown loses nothing.
func (m *Merger) FlushAll() error {
	m.mu.Lock()
	slots := make(map[string]*streamSlot, len(m.slots))
	for id, s := range m.slots {
		slots[id] = s
	}
	m.mu.Unlock()

	for id, s := range slots {
		s.mu.Lock()
		if s.pending != nil {
			ev := *s.pending
			s.pending = nil
			if err := m.flush(s.endpoint, ev); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("flush stream %s: %w", id, err)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

func (m *Merger) flush(endpoint string, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return m.queue.Enqueue(domain.QueuedRequest{
		Endpoint: endpoint,
		Payload:  payload,
	})
}
