package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hootrhino/regsim"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regsim.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
role = "host"

[log]
level = "debug"

[serial]
port = "/dev/ttyUSB0"
baud_rate = 9600

[engine]
address = 7
timeout = "250ms"

[poll]
interval = "2s"
operations = ["read 0x10 4", "write 1 2"]
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Role != roleHost || cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("role/log %q %+v", cfg.Role, cfg.Log)
	}
	if cfg.Serial.Address != "/dev/ttyUSB0" || cfg.Serial.BaudRate != 9600 || cfg.Serial.DataBits != 8 {
		t.Errorf("serial %+v", cfg.Serial)
	}
	if cfg.Address != 7 || cfg.Timeout != 250*time.Millisecond {
		t.Errorf("engine address %d timeout %v", cfg.Address, cfg.Timeout)
	}
	if cfg.PollInterval != regsim.DefaultPollInterval || cfg.InitialTimeout != regsim.DefaultInitialTimeout {
		t.Errorf("undefined durations changed: %v %v", cfg.PollInterval, cfg.InitialTimeout)
	}
	if cfg.PollEvery != 2*time.Second || len(cfg.PollOperations) != 2 {
		t.Errorf("poll %v %v", cfg.PollEvery, cfg.PollOperations)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	if cfg.registerCount() != regsim.DefaultSlaveRegisters {
		t.Errorf("host register count %d", cfg.registerCount())
	}
}

func TestLoadConfigErrors(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"syntax", "role = "},
		{"address range", "[engine]\naddress = 300\n"},
		{"unit range", "[engine]\nunit_id = -1\n"},
		{"duration", "[engine]\ntimeout = \"soon\"\n"},
	}
	for _, tc := range testCases {
		if _, err := loadConfig(writeConfig(t, tc.body)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file loaded")
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"device without port", func(c *Config) { c.Role = roleDevice }, false},
		{"device with port", func(c *Config) {
			c.Role = roleDevice
			c.Serial.Address = "COM3"
		}, true},
		{"unknown role", func(c *Config) { c.Role = "observer" }, false},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"bad fault", func(c *Config) { c.Fault = "explode" }, false},
		{"modbus fault name", func(c *Config) { c.Fault = "illegal_address" }, true},
		{"bad pattern", func(c *Config) { c.Pattern = "zigzag" }, false},
		{"huge map", func(c *Config) { c.Registers = 70000 }, false},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, false},
		{"bad poll operation", func(c *Config) { c.PollOperations = []string{"read"} }, false},
		{"zero poll interval", func(c *Config) {
			c.PollOperations = []string{"read 1"}
			c.PollEvery = 0
		}, false},
	}
	for _, tc := range testCases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); (err == nil) != tc.ok {
			t.Errorf("%s: Validate got %v", tc.name, err)
		}
	}
}

func TestConfigRoleDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.tcpAddr() != ":502" {
		t.Errorf("slave address %q", cfg.tcpAddr())
	}
	cfg.Role = roleMaster
	if cfg.tcpAddr() != "127.0.0.1:502" {
		t.Errorf("master address %q", cfg.tcpAddr())
	}
	cfg.Role = roleDevice
	if cfg.registerCount() != regsim.DefaultDeviceRegisters {
		t.Errorf("device register count %d", cfg.registerCount())
	}
	cfg.Registers = 64
	if cfg.registerCount() != 64 {
		t.Errorf("explicit register count %d", cfg.registerCount())
	}
}

func TestRenderConfigReloads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Role = roleMaster
	cfg.Timeout = 3 * time.Second
	cfg.PollOperations = []string{"read 0 2"}
	out, err := renderConfig(cfg)
	if err != nil {
		t.Fatalf("renderConfig failed: %v", err)
	}
	if !strings.Contains(string(out), "[engine]") {
		t.Errorf("rendered config has no engine table:\n%s", out)
	}
	reloaded, err := loadConfig(writeConfig(t, string(out)))
	if err != nil {
		t.Fatalf("rendered config does not load: %v\n%s", err, out)
	}
	if reloaded.Role != roleMaster || reloaded.Timeout != 3*time.Second ||
		reloaded.TCPAddr != "127.0.0.1:502" || len(reloaded.PollOperations) != 1 {
		t.Errorf("reloaded %+v", reloaded)
	}
}
