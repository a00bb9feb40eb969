package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors the TOML config file layout. Server settings and
// client tuning carry separate testing sections so one file configures
// both environments; durations are strings to stay TOML-friendly.
type FileConfig struct {
	Server        ServerSection `toml:"server"`
	ServerTesting ServerSection `toml:"server-testing"`
	Client        ClientSection `toml:"client"`
	ClientTesting ClientSection `toml:"client-testing"`
}

// ServerSection configures where the collector listens.
type ServerSection struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
}

// ClientSection configures client-side delivery tuning.
type ClientSection struct {
	CommitInterval string `toml:"commit_interval"`
	Timeout        string `toml:"timeout"`
	DataDir        string `toml:"data_dir"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pulseclient", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies file values to cfg, picking the testing sections
// when cfg.Testing is set and skipping anything already set by flags.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	server := fc.Server
	client := fc.Client
	if cfg.Testing {
		server = fc.ServerTesting
		client = fc.ClientTesting
	}

	s := newConfigSetter(changed)
	s.setString("host", server.Hostname, &cfg.ServerHost)
	s.setInt("port", server.Port, &cfg.ServerPort)
	s.setString("data-dir", client.DataDir, &cfg.DataDir)

	if err := s.setDuration("commit-interval", client.CommitInterval, &cfg.CommitInterval); err != nil {
		return err
	}
	return s.setDuration("timeout", client.Timeout, &cfg.HTTPTimeout)
}

// FileExists reports whether a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
