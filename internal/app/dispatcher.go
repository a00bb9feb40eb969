package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulselabs/pulseclient/internal/domain"
	"github.com/pulselabs/pulseclient/internal/ports"
)

// Default dispatcher timing values.
const (
	DefaultReconnectInterval = 10 * time.Second
	DefaultPollInterval      = 200 * time.Millisecond
	DefaultFailureCooldown   = 500 * time.Millisecond
	DefaultBackoffInitial    = 500 * time.Millisecond
	DefaultBackoffMax        = 30 * time.Second
)

// DispatcherConfig configures one dispatcher run.
type DispatcherConfig struct {
	// ClientName and Hostname identify the client in replayed stream
	// registrations.
	ClientName string
	Hostname   string

	// ReconnectInterval is the wait between connection attempts.
	ReconnectInterval time.Duration

	// PollInterval is the idle wait when the queue is empty.
	PollInterval time.Duration

	// FailureCooldown is the wait after a connectivity or server failure
	// before the next attempt.
	FailureCooldown time.Duration

	// BackoffInitial and BackoffMax bound the retry backoff for send
	// failures that fit no known class.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c *DispatcherConfig) setDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.FailureCooldown <= 0 {
		c.FailureCooldown = DefaultFailureCooldown
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
}

// Dispatcher is the background delivery worker. It owns the connection
// state: items are only sent while Connected, a connectivity failure drops
// back to Connecting, and every (re)connection replays the accumulated
// stream registrations before dispatch resumes.
//
// A Dispatcher is disposable: Start may be called once, Stop tears it down
// for good, and the owner builds a fresh one for the next run.
type Dispatcher struct {
	cfg           DispatcherConfig
	queue         ports.RequestQueue
	transport     ports.Transport
	registrations func() []domain.StreamRegistration
	logger        ports.Logger

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	fatal error
}

// NewDispatcher creates a dispatcher. registrations is called on every
// connection attempt and must return a snapshot of all streams registered
// since process start.
func NewDispatcher(
	cfg DispatcherConfig,
	queue ports.RequestQueue,
	transport ports.Transport,
	registrations func() []domain.StreamRegistration,
	logger ports.Logger,
) *Dispatcher {
	cfg.setDefaults()
	return &Dispatcher{
		cfg:           cfg,
		queue:         queue,
		transport:     transport,
		registrations: registrations,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Start launches the delivery loop in the background.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	// The worker must report live before Start returns, not when the
	// goroutine gets scheduled; otherwise an immediate State() call sees
	// Stopped and the owner may start a second worker.
	d.setState(StateConnecting)
	go d.run(ctx)
}

// Stop signals the loop to stop and waits for it to exit. An idle wait is
// interrupted promptly; an in-progress delivery attempt is allowed to
// finish. Safe to call more than once, and a no-op before Start.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// State returns the current connection state. Safe from any goroutine.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Err returns the fatal error that aborted the loop, if any. Fatal errors
// are unrecoverable storage failures; delivery failures are handled
// internally and never surface here.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatal
}

func (d *Dispatcher) setState(s State) {
	prev := State(d.state.Swap(int32(s)))
	if prev != s {
		d.logger.Info("dispatcher state",
			ports.String("from", prev.String()),
			ports.String("to", s.String()))
	}
}

func (d *Dispatcher) setFatal(err error) {
	d.mu.Lock()
	d.fatal = err
	d.mu.Unlock()
	d.logger.Error("dispatcher aborted", ports.Err(err))
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	defer d.setState(StateStopped)

	for {
		d.setState(StateConnecting)
		if !d.connect(ctx) {
			return
		}
		d.setState(StateConnected)

		back := newBackoff(d.cfg.BackoffInitial, d.cfg.BackoffMax)
		for ctx.Err() == nil {
			connected, err := d.dispatchNext(ctx, back)
			if err != nil {
				d.setFatal(err)
				return
			}
			if !connected {
				break
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// connect replays stream registrations until one full replay succeeds.
// Returns false when the context is canceled first.
func (d *Dispatcher) connect(ctx context.Context) bool {
	for {
		err := d.replayRegistrations(ctx)
		if err == nil {
			d.logger.Info("connected to collector")
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		queued, _ := d.queue.Size()
		d.logger.Warn("collector not reachable, holding queue",
			ports.Int("queued", queued),
			ports.Err(err))

		if !sleepCtx(ctx, d.cfg.ReconnectInterval) {
			return false
		}
	}
}

// replayRegistrations re-creates every registered stream. The collector
// creates streams only if missing, so replay is idempotent.
func (d *Dispatcher) replayRegistrations(ctx context.Context) error {
	for _, reg := range d.registrations() {
		payload := domain.CreateStreamPayload{
			Client:   d.cfg.ClientName,
			Hostname: d.cfg.Hostname,
			Type:     reg.Type,
		}
		if err := d.transport.PostJSON(ctx, "streams/"+reg.ID, payload, nil); err != nil {
			return err
		}
	}
	return nil
}

// dispatchNext delivers at most one queued item and applies the retry
// policy for its outcome. The first return is false when connectivity was
// lost and the loop must reconnect. A non-nil error is fatal (storage).
func (d *Dispatcher) dispatchNext(ctx context.Context, back *backoff) (bool, error) {
	req, ok, err := d.queue.PeekFront()
	if err != nil {
		return false, err
	}
	if !ok {
		sleepCtx(ctx, d.cfg.PollInterval)
		return true, nil
	}

	err = d.transport.PostJSON(ctx, req.Endpoint, req.Payload, nil)
	switch {
	case err == nil:
		if err := d.queue.Commit(); err != nil {
			return false, err
		}
		back.Reset()
		d.logger.Debug("delivered", ports.String("endpoint", req.Endpoint))
		return true, nil

	case errors.Is(err, context.Canceled):
		// Stop was requested mid-attempt; the item stays queued.
		return true, nil

	case errors.Is(err, domain.ErrConnectivity):
		d.logger.Warn("connection lost, queueing until the collector is back",
			ports.Err(err))
		sleepCtx(ctx, d.cfg.FailureCooldown)
		return false, nil

	case errors.Is(err, domain.ErrBadRequest):
		// A payload the collector rejects as malformed can never succeed
		// by resending. Drop it so it cannot wedge the queue.
		d.logger.Error("request rejected, dropping",
			ports.String("endpoint", req.Endpoint),
			ports.Err(err))
		if err := d.queue.Commit(); err != nil {
			return false, err
		}
		return true, nil

	case errors.Is(err, domain.ErrServerError):
		d.logger.Error("server error, retrying", ports.Err(err))
		sleepCtx(ctx, d.cfg.FailureCooldown)
		return true, nil

	default:
		// Unknown failure class: keep the item and retry with growing
		// backoff. Only proven-permanent failures are dropped.
		d.logger.Error("unclassified send failure, retrying",
			ports.String("endpoint", req.Endpoint),
			ports.Err(err))
		back.Sleep(ctx)
		return true, nil
	}
}

// sleepCtx waits for d or until ctx is done. Returns false when canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
