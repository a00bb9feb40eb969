// Package cliconfig resolves client configuration from defaults, a TOML
// config file, PULSE_* environment variables, and command-line flags, in
// increasing order of precedence.
package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Default server endpoints. The testing port keeps a development collector
// and its queue files fully separate from production.
const (
	DefaultServerHost  = "localhost"
	DefaultServerPort  = 5600
	DefaultTestingPort = 5666
)

// Config holds resolved client configuration.
type Config struct {
	ClientName string
	Testing    bool

	ServerHost string
	ServerPort int

	// CommitInterval bounds how long a merged heartbeat may stay only in
	// memory before it is forced into the durable queue.
	CommitInterval time.Duration

	HTTPTimeout time.Duration
	DataDir     string
}

// DefaultConfig returns a Config with default values. ServerPort is left
// zero and derived from Testing during Validate so that --testing alone
// switches ports.
func DefaultConfig() Config {
	return Config{
		ClientName:     "pulseclient",
		ServerHost:     DefaultServerHost,
		CommitInterval: 10 * time.Second,
		HTTPTimeout:    10 * time.Second,
	}
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.ClientName == "" {
		return fmt.Errorf("client-name is required")
	}
	if c.ServerHost == "" {
		c.ServerHost = DefaultServerHost
	}
	if c.ServerPort == 0 {
		if c.Testing {
			c.ServerPort = DefaultTestingPort
		} else {
			c.ServerPort = DefaultServerPort
		}
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerPort)
	}
	if c.CommitInterval <= 0 {
		return fmt.Errorf("commit interval must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	return nil
}

// ServerURL returns the collector base URL.
func (c Config) ServerURL() string {
	return fmt.Sprintf("http://%s:%d", c.ServerHost, c.ServerPort)
}

// DefaultDataDir returns the directory for queue and lock files.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".local", "share", "pulseclient")
	}
	return "."
}

// configSetter applies values while respecting flags the user set
// explicitly: a changed flag always wins over file and environment.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i > 0 {
		*dst = i
	}
	return nil
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
