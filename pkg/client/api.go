package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/pulselabs/pulseclient/internal/domain"
)

// Info describes a running collector.
type Info struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	Testing  bool   `json:"testing"`
}

// StreamMetadata describes a stream as the collector stores it.
type StreamMetadata struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Client   string    `json:"client"`
	Hostname string    `json:"hostname"`
	Created  time.Time `json:"created"`
}

// TimePeriod is a half-open interval used by queries.
type TimePeriod struct {
	Start time.Time
	End   time.Time
}

func (p TimePeriod) String() string {
	return p.Start.Format(time.RFC3339) + "/" + p.End.Format(time.RFC3339)
}

// GetInfo fetches collector build and environment information.
func (c *Client) GetInfo(ctx context.Context) (Info, error) {
	var info Info
	err := c.transport.GetJSON(ctx, "info", nil, &info)
	return info, err
}

// GetStreams lists all streams on the collector, keyed by stream id.
func (c *Client) GetStreams(ctx context.Context) (map[string]StreamMetadata, error) {
	var streams map[string]StreamMetadata
	err := c.transport.GetJSON(ctx, "streams/", nil, &streams)
	return streams, err
}

// GetStream fetches one stream's metadata.
func (c *Client) GetStream(ctx context.Context, streamID string) (StreamMetadata, error) {
	var meta StreamMetadata
	err := c.transport.GetJSON(ctx, "streams/"+streamID, nil, &meta)
	return meta, err
}

// DeleteStream removes a stream and all its events from the collector.
func (c *Client) DeleteStream(ctx context.Context, streamID string) error {
	return c.transport.DeleteJSON(ctx, "streams/"+streamID, nil)
}

// GetEvents fetches events from a stream, newest first. limit <= 0 means no
// limit; zero start or end leaves that bound open.
func (c *Client) GetEvents(ctx context.Context, streamID string, limit int, start, end time.Time) ([]Event, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if !start.IsZero() {
		params.Set("start", start.Format(time.RFC3339))
	}
	if !end.IsZero() {
		params.Set("end", end.Format(time.RFC3339))
	}

	var events []Event
	err := c.transport.GetJSON(ctx, "streams/"+streamID+"/events", params, &events)
	return events, err
}

// GetEventCount counts events in a stream within the given bounds.
func (c *Client) GetEventCount(ctx context.Context, streamID string, start, end time.Time) (int, error) {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("start", start.Format(time.RFC3339))
	}
	if !end.IsZero() {
		params.Set("end", end.Format(time.RFC3339))
	}

	var count int
	err := c.transport.GetJSON(ctx, "streams/"+streamID+"/events/count", params, &count)
	return count, err
}

// GetEvent fetches a single event by its collector-assigned id.
func (c *Client) GetEvent(ctx context.Context, streamID string, eventID int64) (Event, error) {
	var ev Event
	err := c.transport.GetJSON(ctx, fmt.Sprintf("streams/%s/events/%d", streamID, eventID), nil, &ev)
	return ev, err
}

// DeleteEvent removes a single event from a stream.
func (c *Client) DeleteEvent(ctx context.Context, streamID string, eventID int64) error {
	return c.transport.DeleteJSON(ctx, fmt.Sprintf("streams/%s/events/%d", streamID, eventID), nil)
}

// GetSetting reads a collector-side setting by key.
func (c *Client) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	var value json.RawMessage
	err := c.transport.GetJSON(ctx, "settings/"+key, nil, &value)
	return value, err
}

// SetSetting stores a collector-side setting.
func (c *Client) SetSetting(ctx context.Context, key string, value any) error {
	return c.transport.PostJSON(ctx, "settings/"+key, value, nil)
}

// Export dumps every stream and its events as the collector's export
// document, suitable for ImportStreams.
func (c *Client) Export(ctx context.Context) (json.RawMessage, error) {
	var dump json.RawMessage
	err := c.transport.GetJSON(ctx, "export", nil, &dump)
	return dump, err
}

// ExportStream dumps one stream and its events.
func (c *Client) ExportStream(ctx context.Context, streamID string) (json.RawMessage, error) {
	var dump json.RawMessage
	err := c.transport.GetJSON(ctx, "streams/"+streamID+"/export", nil, &dump)
	return dump, err
}

// ImportStreams loads a previously exported dump into the collector.
func (c *Client) ImportStreams(ctx context.Context, dump json.RawMessage) error {
	return c.transport.PostJSON(ctx, "import", dump, nil)
}

// InsertEvents writes events into a stream directly, bypassing the merge
// engine and the durable queue.
func (c *Client) InsertEvents(ctx context.Context, streamID string, events ...Event) error {
	return c.transport.PostJSON(ctx, "streams/"+streamID+"/events", events, nil)
}

// Query runs a server-side query over the given time periods and returns
// one raw result per period.
func (c *Client) Query(ctx context.Context, query []string, periods []TimePeriod) ([]json.RawMessage, error) {
	ps := make([]string, len(periods))
	for i, p := range periods {
		ps[i] = p.String()
	}
	payload := map[string]any{
		"query":       query,
		"timeperiods": ps,
	}

	var results []json.RawMessage
	err := c.transport.PostJSON(ctx, "query/", payload, &results)
	return results, err
}

// WaitForStart polls the collector until it answers or timeout elapses,
// returning ErrServerTimeout in the latter case. Useful when the client
// starts alongside the collector.
func (c *Client) WaitForStart(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	sleep := 100 * time.Millisecond

	for {
		if _, err := c.GetInfo(ctx); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return err
		}

		if time.Now().Add(sleep).After(deadline) {
			return fmt.Errorf("%w: no answer within %s", domain.ErrServerTimeout, timeout)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if sleep < time.Second {
			sleep *= 2
		}
	}
}
