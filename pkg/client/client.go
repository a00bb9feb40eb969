// Package client provides the public API for reporting events to a
// pulse collector.
//
// The queued path is the durable one: heartbeats are merged in memory per
// stream, flushed into a crash-safe on-disk queue, and delivered in order
// by a background dispatcher that survives collector restarts and network
// loss. Non-queued calls go straight to the collector and return its
// answer.
//
// Example usage:
//
//	c, err := client.New("window-watcher")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.Connect()
//	c.CreateStream(ctx, streamID, "currentwindow", true)
//	c.Heartbeat(ctx, streamID, ev, 10*time.Second, true)
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulselabs/pulseclient/internal/adapters/rest"
	"github.com/pulselabs/pulseclient/internal/adapters/sqlite"
	"github.com/pulselabs/pulseclient/internal/app"
	"github.com/pulselabs/pulseclient/internal/domain"
	"github.com/pulselabs/pulseclient/internal/lock"
	"github.com/pulselabs/pulseclient/internal/ports"
)

// Event is a single span of activity with a JSON data payload.
type Event = domain.Event

// ConnectionState reports what the background dispatcher is doing.
type ConnectionState = app.State

// Dispatcher states.
const (
	StateStopped    = app.StateStopped
	StateConnecting = app.StateConnecting
	StateConnected  = app.StateConnected
)

// Sentinel errors callers can test with errors.Is.
var (
	ErrAlreadyLocked = domain.ErrAlreadyLocked
	ErrServerTimeout = domain.ErrServerTimeout
	ErrConnectivity  = domain.ErrConnectivity
	ErrBadRequest    = domain.ErrBadRequest
	ErrServerError   = domain.ErrServerError
)

// Client talks to one collector on behalf of one named client program.
// All methods are safe for concurrent use.
type Client struct {
	name           string
	hostname       string
	instanceID     string
	testing        bool
	commitInterval time.Duration

	logger    ports.Logger
	transport ports.Transport
	queue     ports.RequestQueue
	merger    *app.Merger
	instLock  *lock.Lock

	mu            sync.Mutex
	registrations []domain.StreamRegistration
	dispatcher    *app.Dispatcher
	closed        bool
}

// New creates a client named name. The name identifies the client to the
// collector and names its on-disk queue; only one process may hold a given
// name against a given collector at a time (ErrAlreadyLocked otherwise).
func New(name string, opts ...Option) (*Client, error) {
	if name == "" {
		return nil, errors.New("pulseclient: client name is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.fillDerived()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instanceID := uuid.NewString()

	lockPath := filepath.Join(o.dataDir,
		fmt.Sprintf("%s-at-%s-on-%d.lock", name, o.host, o.port))
	instLock, err := lock.Acquire(lockPath, instanceID)
	if err != nil {
		return nil, err
	}

	queuePath := filepath.Join(o.dataDir, "queued", sqlite.FileName(name, o.testing))
	queue, err := sqlite.Open(queuePath)
	if err != nil {
		instLock.Release()
		return nil, err
	}

	transport := rest.New(
		fmt.Sprintf("http://%s:%d", o.host, o.port),
		o.httpClient,
		o.logger,
		rest.Identity{ClientName: name, Hostname: hostname, InstanceID: instanceID},
	)

	c := &Client{
		name:           name,
		hostname:       hostname,
		instanceID:     instanceID,
		testing:        o.testing,
		commitInterval: o.commitInterval,
		logger:         o.logger,
		transport:      transport,
		queue:          queue,
		merger:         app.NewMerger(queue, o.logger),
		instLock:       instLock,
	}
	c.logger.Info("client ready",
		ports.String("name", name),
		ports.String("server", fmt.Sprintf("%s:%d", o.host, o.port)),
		ports.Bool("testing", o.testing))
	return c, nil
}

// Connect starts background delivery of queued requests. Idempotent: when
// a dispatcher is already running this is a no-op, otherwise a fresh one is
// started. Connect never blocks on the network.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.dispatcher != nil && c.dispatcher.State() != app.StateStopped {
		return
	}
	d := app.NewDispatcher(
		app.DispatcherConfig{ClientName: c.name, Hostname: c.hostname},
		c.queue,
		c.transport,
		c.snapshotRegistrations,
		c.logger,
	)
	c.dispatcher = d
	d.Start()
}

// Disconnect stops the dispatcher and flushes pending merged heartbeats
// into the durable queue. Anything not yet delivered stays queued on disk
// and resumes on the next Connect. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	d := c.dispatcher
	c.dispatcher = nil
	c.mu.Unlock()

	if d != nil {
		d.Stop()
	}
	// Flushing after the stop keeps the outcome deterministic: everything
	// pending ends up on disk, nothing races the last delivery.
	return c.merger.FlushAll()
}

// State returns the dispatcher's connection state, StateStopped when no
// dispatcher is running.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dispatcher == nil {
		return app.StateStopped
	}
	return c.dispatcher.State()
}

// Err returns the fatal storage error that aborted the dispatcher, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	d := c.dispatcher
	c.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Err()
}

// PendingDeliveries returns how many requests wait in the durable queue.
// Heartbeats still merging in memory are not counted.
func (c *Client) PendingDeliveries() (int, error) {
	return c.queue.Size()
}

// Close disconnects, closes the queue, and releases the single-instance
// lock. The client is unusable afterwards.
func (c *Client) Close() error {
	err := c.Disconnect()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return err
	}
	c.closed = true
	c.mu.Unlock()

	return errors.Join(err, c.queue.Close(), c.instLock.Release())
}

// CreateStream creates a stream on the collector.
//
// With queued set, the stream is recorded locally and created on the
// collector at every (re)connection, so registration works while offline.
// Without queued, the stream is created immediately and the collector's
// answer is returned.
func (c *Client) CreateStream(ctx context.Context, streamID, eventType string, queued bool) error {
	payload := domain.CreateStreamPayload{
		Client:   c.name,
		Hostname: c.hostname,
		Type:     eventType,
	}
	if !queued {
		return c.transport.PostJSON(ctx, "streams/"+streamID, payload, nil)
	}

	c.mu.Lock()
	registered := false
	for _, reg := range c.registrations {
		if reg.ID == streamID {
			registered = true
			break
		}
	}
	if !registered {
		c.registrations = append(c.registrations, domain.StreamRegistration{
			ID:   streamID,
			Type: eventType,
		})
	}
	connected := c.dispatcher != nil && c.dispatcher.State() == app.StateConnected
	c.mu.Unlock()

	// The dispatcher replays registrations only when it (re)connects. When
	// it is already connected, create the stream now so heartbeats that
	// follow immediately have somewhere to land; a failure here is fine
	// since the next reconnect replays it anyway.
	if connected {
		if err := c.transport.PostJSON(ctx, "streams/"+streamID, payload, nil); err != nil {
			c.logger.Debug("eager stream creation failed, deferring to replay",
				ports.String("stream", streamID),
				ports.Err(err))
		}
	}
	return nil
}

// Heartbeat reports a heartbeat event for a stream.
//
// With queued set, the event enters the merge engine: consecutive
// heartbeats with identical data within pulsetime of each other coalesce
// into one span, and merged spans are flushed to the durable queue at
// commit-interval boundaries. commitInterval optionally overrides the
// client-wide interval for this call.
//
// Without queued, the heartbeat is posted directly and any failure is the
// caller's to handle.
func (c *Client) Heartbeat(ctx context.Context, streamID string, ev Event, pulsetime time.Duration, queued bool, commitInterval ...time.Duration) error {
	if !queued {
		return c.transport.PostJSON(ctx, app.HeartbeatEndpoint(streamID, pulsetime), ev, nil)
	}
	interval := c.commitInterval
	if len(commitInterval) > 0 && commitInterval[0] > 0 {
		interval = commitInterval[0]
	}
	return c.merger.Submit(streamID, ev, pulsetime, interval)
}

func (c *Client) snapshotRegistrations() []domain.StreamRegistration {
	c.mu.Lock()
	defer c.mu.Unlock()
	regs := make([]domain.StreamRegistration, len(c.registrations))
	copy(regs, c.registrations)
	return regs
}
