package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	logAdapter "github.com/pulselabs/pulseclient/internal/adapters/log"
	"github.com/pulselabs/pulseclient/internal/cliconfig"
	"github.com/pulselabs/pulseclient/internal/configwatch"
	"github.com/pulselabs/pulseclient/pkg/client"
)

var exampleUsage = `  pulseclient info
  pulseclient streams create my-stream --type heartbeat
  pulseclient heartbeat my-stream --data '{"status":"working"}' --pulsetime 120s
  pulseclient heartbeat my-stream --data '{"status":"working"}' --watch --interval 5s`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	verbose bool
	log     zerolog.Logger
}

func main() {
	app := &cli{cfg: cliconfig.DefaultConfig()}
	if err := app.rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pulseclient: %v\n", err)
		os.Exit(1)
	}
}

func (a *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pulseclient",
		Short:         "Report activity events to a pulse collector",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolveConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "path to config file (default: user config dir)")
	pf.StringVar(&a.cfg.ClientName, "client-name", a.cfg.ClientName, "client name reported to the collector")
	pf.BoolVar(&a.cfg.Testing, "testing", false, "talk to the testing collector and keep queues separate")
	pf.StringVar(&a.cfg.ServerHost, "host", a.cfg.ServerHost, "collector hostname")
	pf.IntVar(&a.cfg.ServerPort, "port", 0, "collector port (default: 5600, or 5666 with --testing)")
	pf.DurationVar(&a.cfg.HTTPTimeout, "timeout", a.cfg.HTTPTimeout, "HTTP timeout per request")
	pf.StringVar(&a.cfg.DataDir, "data-dir", "", "directory for queue and lock files")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(a.infoCmd(), a.streamsCmd(), a.eventsCmd(), a.heartbeatCmd())
	return root
}

// resolveConfig layers the config file and PULSE_* environment variables
// under any explicitly set flags.
func (a *cli) resolveConfig(cmd *cobra.Command) error {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	cmd.Root().PersistentFlags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	cfgFile := a.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}
	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&a.cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyEnvConfig(&a.cfg, changed); err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	level := zerolog.WarnLevel
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
	return nil
}

func (a *cli) newClient() (*client.Client, error) {
	opts := []client.Option{
		client.WithHost(a.cfg.ServerHost),
		client.WithPort(a.cfg.ServerPort),
		client.WithDataDir(a.cfg.DataDir),
		client.WithCommitInterval(a.cfg.CommitInterval),
		client.WithHTTPTimeout(a.cfg.HTTPTimeout),
		client.WithLogger(a.log),
	}
	if a.cfg.Testing {
		opts = append(opts, client.WithTesting())
	}
	return client.New(a.cfg.ClientName, opts...)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func (a *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show collector build and environment information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			info, err := c.GetInfo(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
}

func (a *cli) streamsCmd() *cobra.Command {
	streams := &cobra.Command{
		Use:   "streams",
		Short: "Inspect and manage collector streams",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			all, err := c.GetStreams(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(all)
		},
	}

	var eventType string
	create := &cobra.Command{
		Use:   "create <stream-id>",
		Short: "Create a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.CreateStream(cmd.Context(), args[0], eventType, false); err != nil {
				return err
			}
			a.log.Info().Str("stream", args[0]).Msg("stream created")
			return nil
		},
	}
	create.Flags().StringVar(&eventType, "type", "heartbeat", "event type for the stream")

	del := &cobra.Command{
		Use:   "delete <stream-id>",
		Short: "Delete a stream and all its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.DeleteStream(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.log.Info().Str("stream", args[0]).Msg("stream deleted")
			return nil
		},
	}

	streams.AddCommand(list, create, del)
	return streams
}

func (a *cli) eventsCmd() *cobra.Command {
	var (
		limit      int
		start, end string
	)
	events := &cobra.Command{
		Use:   "events <stream-id>",
		Short: "Fetch events from a stream, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var startT, endT time.Time
			var err error
			if start != "" {
				if startT, err = time.Parse(time.RFC3339, start); err != nil {
					return fmt.Errorf("parse --start: %w", err)
				}
			}
			if end != "" {
				if endT, err = time.Parse(time.RFC3339, end); err != nil {
					return fmt.Errorf("parse --end: %w", err)
				}
			}

			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			evs, err := c.GetEvents(cmd.Context(), args[0], limit, startT, endT)
			if err != nil {
				return err
			}
			return printJSON(evs)
		},
	}
	events.Flags().IntVar(&limit, "limit", 100, "maximum number of events (0 for no limit)")
	events.Flags().StringVar(&start, "start", "", "earliest event time (RFC 3339)")
	events.Flags().StringVar(&end, "end", "", "latest event time (RFC 3339)")
	return events
}

func (a *cli) heartbeatCmd() *cobra.Command {
	var (
		data      string
		eventType string
		pulsetime time.Duration
		watch     bool
		interval  time.Duration
	)
	hb := &cobra.Command{
		Use:   "heartbeat <stream-id>",
		Short: "Send a heartbeat, once or repeatedly",
		Long: `Send a heartbeat to a stream.

Without --watch a single heartbeat is posted directly and the command
exits. With --watch the command keeps sending the heartbeat every
--interval through the durable queue, surviving collector outages, until
interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}

			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			if !watch {
				ev := client.Event{Timestamp: time.Now(), Data: payload}
				return c.Heartbeat(cmd.Context(), args[0], ev, pulsetime, false)
			}
			return a.watchLoop(cmd.Context(), c, args[0], eventType, payload, pulsetime, interval)
		},
	}
	hb.Flags().StringVar(&data, "data", "{}", "event data as a JSON object")
	hb.Flags().StringVar(&eventType, "type", "heartbeat", "event type for the stream")
	hb.Flags().DurationVar(&pulsetime, "pulsetime", 2*time.Minute, "max gap between heartbeats that still merge")
	hb.Flags().BoolVar(&watch, "watch", false, "keep sending heartbeats via the durable queue")
	hb.Flags().DurationVar(&interval, "interval", 5*time.Second, "delay between heartbeats in watch mode")
	return hb
}

// watchLoop is the queued daemon mode: register the stream, start
// background delivery, and emit a heartbeat every interval until a signal
// arrives. Commit-interval changes in the config file are picked up live.
func (a *cli) watchLoop(parent context.Context, c *client.Client, streamID, eventType string, payload map[string]any, pulsetime, interval time.Duration) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := c.CreateStream(ctx, streamID, eventType, true); err != nil {
		return err
	}
	c.Connect()

	var mu sync.Mutex
	commitInterval := a.cfg.CommitInterval

	cfgFile := a.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}
	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		watcher := configwatch.New(cfgFile, func() {
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err != nil {
				a.log.Warn().Err(err).Msg("config reload failed")
				return
			}
			fresh := a.cfg
			if err := cliconfig.ApplyFileConfig(&fresh, fc, nil); err != nil {
				a.log.Warn().Err(err).Msg("config reload failed")
				return
			}
			mu.Lock()
			commitInterval = fresh.CommitInterval
			mu.Unlock()
			a.log.Info().Dur("commit_interval", fresh.CommitInterval).Msg("config reloaded")
		}, logAdapter.NewZerologAdapterWithLogger(a.log))
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	a.log.Info().
		Str("stream", streamID).
		Dur("interval", interval).
		Msg("watching, interrupt to stop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		mu.Lock()
		ci := commitInterval
		mu.Unlock()

		ev := client.Event{Timestamp: time.Now(), Data: payload}
		if err := c.Heartbeat(ctx, streamID, ev, pulsetime, true, ci); err != nil {
			return err
		}
		if fatal := c.Err(); fatal != nil {
			return fatal
		}

		select {
		case <-ctx.Done():
			a.log.Info().Msg("stopping, flushing pending heartbeats")
			return c.Disconnect()
		case <-ticker.C:
		}
	}
}
