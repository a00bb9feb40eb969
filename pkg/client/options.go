package client

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	logadapter "github.com/pulselabs/pulseclient/internal/adapters/log"
	"github.com/pulselabs/pulseclient/internal/cliconfig"
	"github.com/pulselabs/pulseclient/internal/ports"
)

type options struct {
	testing        bool
	host           string
	port           int
	dataDir        string
	commitInterval time.Duration
	httpTimeout    time.Duration
	logger         ports.Logger
	httpClient     ports.HTTPClient
}

// Option configures a Client at construction time.
type Option func(*options)

func defaultOptions() options {
	cfg := cliconfig.DefaultConfig()
	return options{
		host:           cfg.ServerHost,
		commitInterval: cfg.CommitInterval,
		httpTimeout:    cfg.HTTPTimeout,
		logger:         logadapter.NewNoopLogger(),
	}
}

// fillDerived resolves values that depend on other options.
func (o *options) fillDerived() {
	if o.port == 0 {
		if o.testing {
			o.port = cliconfig.DefaultTestingPort
		} else {
			o.port = cliconfig.DefaultServerPort
		}
	}
	if o.dataDir == "" {
		o.dataDir = cliconfig.DefaultDataDir()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.httpTimeout}
	}
}

// WithTesting targets the testing collector port and keeps queue files
// separate from production ones.
func WithTesting() Option {
	return func(o *options) { o.testing = true }
}

// WithHost sets the collector hostname.
func WithHost(host string) Option {
	return func(o *options) {
		if host != "" {
			o.host = host
		}
	}
}

// WithPort sets the collector port, overriding the testing/production
// default.
func WithPort(port int) Option {
	return func(o *options) {
		if port > 0 {
			o.port = port
		}
	}
}

// WithDataDir sets the directory for queue and lock files.
func WithDataDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.dataDir = dir
		}
	}
}

// WithCommitInterval sets how long merged heartbeats may accumulate in
// memory before being flushed to the durable queue.
func WithCommitInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.commitInterval = d
		}
	}
}

// WithHTTPTimeout bounds each request to the collector. Ignored when a
// custom HTTP client is supplied.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.httpTimeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client used for all collector requests.
func WithHTTPClient(hc ports.HTTPClient) Option {
	return func(o *options) {
		if hc != nil {
			o.httpClient = hc
		}
	}
}

// WithLogger routes the client's internal logging to a zerolog logger. The
// default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logadapter.NewZerologAdapterWithLogger(logger)
	}
}
