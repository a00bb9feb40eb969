package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidate_DerivesPortFromTesting(t *testing.T) {
	tests := []struct {
		name     string
		testing  bool
		wantPort int
	}{
		{"production", false, DefaultServerPort},
		{"testing", true, DefaultTestingPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Testing = tt.testing
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() failed: %v", err)
			}
			if cfg.ServerPort != tt.wantPort {
				t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, tt.wantPort)
			}
		})
	}
}

func TestValidate_ExplicitPortKept(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Testing = true
	cfg.ServerPort = 9999
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.ServerPort != 9999 {
		t.Errorf("ServerPort = %d, want 9999", cfg.ServerPort)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty client name", func(c *Config) { c.ClientName = "" }},
		{"negative port", func(c *Config) { c.ServerPort = -1 }},
		{"port too large", func(c *Config) { c.ServerPort = 70000 }},
		{"zero commit interval", func(c *Config) { c.CommitInterval = 0 }},
		{"zero timeout", func(c *Config) { c.HTTPTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}
}

func TestServerURL(t *testing.T) {
	cfg := Config{ServerHost: "example.com", ServerPort: 5600}
	if got := cfg.ServerURL(); got != "http://example.com:5600" {
		t.Errorf("ServerURL() = %q", got)
	}
}

func TestApplyFileConfig_ProductionSections(t *testing.T) {
	path := writeConfigFile(t, `
[server]
hostname = "collector.lan"
port = 8080

[server-testing]
hostname = "dev.lan"
port = 8081

[client]
commit_interval = "30s"
timeout = "5s"
`)
	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.ServerHost != "collector.lan" || cfg.ServerPort != 8080 {
		t.Errorf("server = %s:%d, want collector.lan:8080", cfg.ServerHost, cfg.ServerPort)
	}
	if cfg.CommitInterval != 30*time.Second {
		t.Errorf("CommitInterval = %v, want 30s", cfg.CommitInterval)
	}
	if cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("HTTPTimeout = %v, want 5s", cfg.HTTPTimeout)
	}
}

func TestApplyFileConfig_TestingSections(t *testing.T) {
	path := writeConfigFile(t, `
[server]
hostname = "collector.lan"

[server-testing]
hostname = "dev.lan"
port = 8081
`)
	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Testing = true
	if err := ApplyFileConfig(&cfg, fc, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.ServerHost != "dev.lan" || cfg.ServerPort != 8081 {
		t.Errorf("server = %s:%d, want dev.lan:8081", cfg.ServerHost, cfg.ServerPort)
	}
}

func TestApplyFileConfig_ChangedFlagsWin(t *testing.T) {
	path := writeConfigFile(t, `
[server]
hostname = "collector.lan"
port = 8080
`)
	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.ServerHost = "flag-host"
	cfg.ServerPort = 1234
	changed := map[string]bool{"host": true, "port": true}
	if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
		t.Fatal(err)
	}
	if cfg.ServerHost != "flag-host" || cfg.ServerPort != 1234 {
		t.Errorf("server = %s:%d, flags should win over file", cfg.ServerHost, cfg.ServerPort)
	}
}

func TestApplyFileConfig_BadDuration(t *testing.T) {
	path := writeConfigFile(t, `
[client]
commit_interval = "not a duration"
`)
	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc, nil); err == nil {
		t.Error("ApplyFileConfig() accepted malformed duration")
	}
}

func TestLoadFileConfig_Missing(t *testing.T) {
	if _, err := LoadFileConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("LoadFileConfig() on missing file did not fail")
	}
}

func TestApplyEnvConfig(t *testing.T) {
	t.Setenv(EnvHost, "env-host")
	t.Setenv(EnvPort, "7000")
	t.Setenv(EnvCommitInterval, "45s")
	t.Setenv(EnvTesting, "true")

	cfg := DefaultConfig()
	if err := ApplyEnvConfig(&cfg, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.ServerHost != "env-host" {
		t.Errorf("ServerHost = %q", cfg.ServerHost)
	}
	if cfg.ServerPort != 7000 {
		t.Errorf("ServerPort = %d", cfg.ServerPort)
	}
	if cfg.CommitInterval != 45*time.Second {
		t.Errorf("CommitInterval = %v", cfg.CommitInterval)
	}
	if !cfg.Testing {
		t.Error("Testing not set from env")
	}
}

func TestApplyEnvConfig_ChangedFlagsWin(t *testing.T) {
	t.Setenv(EnvHost, "env-host")

	cfg := DefaultConfig()
	cfg.ServerHost = "flag-host"
	if err := ApplyEnvConfig(&cfg, map[string]bool{"host": true}); err != nil {
		t.Fatal(err)
	}
	if cfg.ServerHost != "flag-host" {
		t.Errorf("ServerHost = %q, flag should win over env", cfg.ServerHost)
	}
}

func TestApplyEnvConfig_BadPort(t *testing.T) {
	t.Setenv(EnvPort, "not-a-port")

	cfg := DefaultConfig()
	if err := ApplyEnvConfig(&cfg, nil); err == nil {
		t.Error("ApplyEnvConfig() accepted malformed port")
	}
}
