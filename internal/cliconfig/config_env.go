package cliconfig

import "os"

// Environment variables. They override the config file and are overridden
// by explicitly set flags.
const (
	EnvHost           = "PULSE_HOST"
	EnvPort           = "PULSE_PORT"
	EnvTesting        = "PULSE_TESTING"
	EnvCommitInterval = "PULSE_COMMIT_INTERVAL"
	EnvTimeout        = "PULSE_TIMEOUT"
	EnvDataDir        = "PULSE_DATA_DIR"
)

// ApplyEnvConfig applies PULSE_* environment variables to cfg, skipping
// anything already set by flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("host", os.Getenv(EnvHost), &cfg.ServerHost)
	s.setString("data-dir", os.Getenv(EnvDataDir), &cfg.DataDir)
	s.setBoolFromString("testing", os.Getenv(EnvTesting), &cfg.Testing)

	if err := s.setIntFromString("port", os.Getenv(EnvPort), &cfg.ServerPort); err != nil {
		return err
	}
	if err := s.setDuration("commit-interval", os.Getenv(EnvCommitInterval), &cfg.CommitInterval); err != nil {
		return err
	}
	return s.setDuration("timeout", os.Getenv(EnvTimeout), &cfg.HTTPTimeout)
}
