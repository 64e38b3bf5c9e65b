package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hootrhino/regsim"
	gotoml "github.com/pelletier/go-toml/v2"
)

const (
	roleHost   = regsim.RoleHost
	roleDevice = regsim.RoleDevice
	roleMaster = regsim.RoleMaster
	roleSlave  = regsim.RoleSlave
)

// Config is the effective runtime configuration of one regsim process.
type Config struct {
	Role     string
	Log      regsim.LogConfig
	HTTPAddr string

	Serial  regsim.SerialConfig
	TCPAddr string

	// Address is the device's own address (device) or the target (host).
	Address        uint8
	UnitID         uint8
	Timeout        time.Duration
	PollInterval   time.Duration
	InitialTimeout time.Duration

	Registers    int
	Pattern      string
	RegistersCSV string
	Fault        string

	PollEvery      time.Duration
	PollOperations []string
}

// DefaultConfig returns the settings used when no file or flag overrides them.
func DefaultConfig() Config {
	return Config{
		Role:           roleSlave,
		Log:            regsim.LogConfig{Level: "INFO", Format: "console"},
		Serial:         regsim.SerialConfig{BaudRate: regsim.DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
		Address:        1,
		UnitID:         1,
		PollInterval:   regsim.DefaultPollInterval,
		InitialTimeout: regsim.DefaultInitialTimeout,
		Fault:          "none",
		PollEvery:      time.Second,
	}
}

// regsim.toml key mapping.
type fileConfig struct {
	Role     string        `toml:"role"`
	HTTPAddr string        `toml:"http_addr"`
	Log      logSection    `toml:"log"`
	Serial   serialSection `toml:"serial"`
	TCP      tcpSection    `toml:"tcp"`
	Engine   engineSection `toml:"engine"`
	Regs     regsSection   `toml:"registers"`
	Fault    faultSection  `toml:"fault"`
	Poll     pollSection   `toml:"poll"`
}

type logSection struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type serialSection struct {
	Port     string `toml:"port"`
	BaudRate int    `toml:"baud_rate"`
	DataBits int    `toml:"data_bits"`
	StopBits int    `toml:"stop_bits"`
	Parity   string `toml:"parity"`
}

type tcpSection struct {
	Addr string `toml:"addr"`
}

type engineSection struct {
	Address        int    `toml:"address"`
	UnitID         int    `toml:"unit_id"`
	Timeout        string `toml:"timeout"`
	PollInterval   string `toml:"poll_interval"`
	InitialTimeout string `toml:"initial_timeout"`
}

type regsSection struct {
	Size    int    `toml:"size"`
	Pattern string `toml:"pattern"`
	CSV     string `toml:"csv"`
}

type faultSection struct {
	Mode string `toml:"mode"`
}

type pollSection struct {
	Interval   string   `toml:"interval"`
	Operations []string `toml:"operations"`
}

// loadConfig decodes path and overlays every key it defines onto DefaultConfig.
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load regsim config: %w", err)
	}

	if meta.IsDefined("role") {
		cfg.Role = strings.ToLower(strings.TrimSpace(raw.Role))
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("serial", "port") {
		cfg.Serial.Address = strings.TrimSpace(raw.Serial.Port)
	}
	if meta.IsDefined("serial", "baud_rate") {
		cfg.Serial.BaudRate = raw.Serial.BaudRate
	}
	if meta.IsDefined("serial", "data_bits") {
		cfg.Serial.DataBits = raw.Serial.DataBits
	}
	if meta.IsDefined("serial", "stop_bits") {
		cfg.Serial.StopBits = raw.Serial.StopBits
	}
	if meta.IsDefined("serial", "parity") {
		cfg.Serial.Parity = strings.ToUpper(strings.TrimSpace(raw.Serial.Parity))
	}
	if meta.IsDefined("tcp", "addr") {
		cfg.TCPAddr = strings.TrimSpace(raw.TCP.Addr)
	}
	if meta.IsDefined("engine", "address") {
		if raw.Engine.Address < 0 || raw.Engine.Address > regsim.MaxDeviceAddress {
			return Config{}, fmt.Errorf("load regsim config: engine.address %d outside 0-%d", raw.Engine.Address, regsim.MaxDeviceAddress)
		}
		cfg.Address = uint8(raw.Engine.Address)
	}
	if meta.IsDefined("engine", "unit_id") {
		if raw.Engine.UnitID < 0 || raw.Engine.UnitID > 255 {
			return Config{}, fmt.Errorf("load regsim config: engine.unit_id %d outside 0-255", raw.Engine.UnitID)
		}
		cfg.UnitID = uint8(raw.Engine.UnitID)
	}
	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"engine", "timeout"}, raw.Engine.Timeout, &cfg.Timeout},
		{[]string{"engine", "poll_interval"}, raw.Engine.PollInterval, &cfg.PollInterval},
		{[]string{"engine", "initial_timeout"}, raw.Engine.InitialTimeout, &cfg.InitialTimeout},
		{[]string{"poll", "interval"}, raw.Poll.Interval, &cfg.PollEvery},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("load regsim config: %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}
	if meta.IsDefined("registers", "size") {
		cfg.Registers = raw.Regs.Size
	}
	if meta.IsDefined("registers", "pattern") {
		cfg.Pattern = strings.TrimSpace(raw.Regs.Pattern)
	}
	if meta.IsDefined("registers", "csv") {
		cfg.RegistersCSV = strings.TrimSpace(raw.Regs.CSV)
	}
	if meta.IsDefined("fault", "mode") {
		cfg.Fault = strings.TrimSpace(raw.Fault.Mode)
	}
	if meta.IsDefined("poll", "operations") {
		cfg.PollOperations = raw.Poll.Operations
	}
	return cfg, nil
}

// Validate checks the role specific settings.
func (c Config) Validate() error {
	switch c.Role {
	case roleHost, roleDevice:
		if c.Serial.Address == "" {
			return fmt.Errorf("role %s needs serial.port", c.Role)
		}
	case roleMaster, roleSlave:
	default:
		return fmt.Errorf("unknown role %q (expected host, device, master or slave)", c.Role)
	}
	if _, err := regsim.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := regsim.ParseFaultMode(c.Fault); err != nil {
		return err
	}
	if _, err := regsim.ParsePattern(c.Pattern); err != nil {
		return err
	}
	if c.Registers < 0 || c.Registers > 0x10000 {
		return fmt.Errorf("registers.size %d outside 0-65536", c.Registers)
	}
	if c.Timeout < 0 || c.PollInterval < 0 || c.InitialTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if len(c.PollOperations) > 0 && c.PollEvery <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if _, err := c.pollOperations(); err != nil {
		return err
	}
	return nil
}

func (c Config) pollOperations() ([]regsim.Operation, error) {
	ops := make([]regsim.Operation, 0, len(c.PollOperations))
	for _, s := range c.PollOperations {
		op, err := regsim.ParseOperation(s)
		if err != nil {
			return nil, fmt.Errorf("poll.operations: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// tcpAddr resolves the role default when tcp.addr is unset.
func (c Config) tcpAddr() string {
	if c.TCPAddr != "" {
		return c.TCPAddr
	}
	if c.Role == roleMaster {
		return "127.0.0.1:502"
	}
	return ":502"
}

// registerCount resolves the protocol default when registers.size is unset.
func (c Config) registerCount() int {
	if c.Registers > 0 {
		return c.Registers
	}
	if c.Role == roleDevice {
		return regsim.DefaultDeviceRegisters
	}
	return regsim.DefaultSlaveRegisters
}

func (c Config) sessionConfig() regsim.SessionConfig {
	return regsim.SessionConfig{
		PollInterval:   c.PollInterval,
		InitialTimeout: c.InitialTimeout,
	}
}

// renderConfig prints the effective configuration in regsim.toml form.
func renderConfig(c Config) ([]byte, error) {
	raw := fileConfig{
		Role:     c.Role,
		HTTPAddr: c.HTTPAddr,
		Log:      logSection{Level: c.Log.Level, Format: c.Log.Format},
		Serial: serialSection{
			Port:     c.Serial.Address,
			BaudRate: c.Serial.BaudRate,
			DataBits: c.Serial.DataBits,
			StopBits: c.Serial.StopBits,
			Parity:   c.Serial.Parity,
		},
		TCP: tcpSection{Addr: c.tcpAddr()},
		Engine: engineSection{
			Address:        int(c.Address),
			UnitID:         int(c.UnitID),
			Timeout:        c.Timeout.String(),
			PollInterval:   c.PollInterval.String(),
			InitialTimeout: c.InitialTimeout.String(),
		},
		Regs:  regsSection{Size: c.registerCount(), Pattern: c.Pattern, CSV: c.RegistersCSV},
		Fault: faultSection{Mode: c.Fault},
		Poll:  pollSection{Interval: c.PollEvery.String(), Operations: c.PollOperations},
	}
	return gotoml.Marshal(raw)
}
