// Package config holds the bridge configuration and its loaders.
//
// Values are resolved from three layers, lowest precedence first:
//
//   - built-in defaults (Default)
//   - a configuration file, TOML or YAML chosen by extension (LoadFile)
//   - NVIMBRIDGE_* environment variables (ApplyEnv)
//
// Load runs all three and validates the result.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/nvimbridge/internal/host"
	"github.com/dshills/nvimbridge/internal/logging"
)

// Duration is a time.Duration that decodes from strings like "50ms".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the duration formatted like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Config is the complete bridge configuration.
type Config struct {
	Engine   EngineConfig   `toml:"engine" yaml:"engine"`
	Sync     SyncConfig     `toml:"sync" yaml:"sync"`
	Host     HostConfig     `toml:"host" yaml:"host"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Recovery RecoveryConfig `toml:"recovery" yaml:"recovery"`
}

// EngineConfig describes how to reach the engine process.
type EngineConfig struct {
	// Command is the engine executable started with --embed when Address is empty.
	Command string `toml:"command" yaml:"command"`
	// Args are extra arguments passed after --embed.
	Args []string `toml:"args" yaml:"args"`
	// Address is a socket path or host:port of an already-running engine.
	Address string `toml:"address" yaml:"address"`
	// Width and Height are the virtual screen size declared at UI attach.
	Width  int `toml:"width" yaml:"width"`
	Height int `toml:"height" yaml:"height"`
	// CallTimeout bounds how long a caller waits on a single RPC.
	CallTimeout Duration `toml:"call_timeout" yaml:"call_timeout"`
}

// SyncConfig tunes the fallback polls.
type SyncConfig struct {
	ModePoll              bool     `toml:"mode_poll" yaml:"mode_poll"`
	ModePollInterval      Duration `toml:"mode_poll_interval" yaml:"mode_poll_interval"`
	KeystrokePoll         bool     `toml:"keystroke_poll" yaml:"keystroke_poll"`
	KeystrokePollInterval Duration `toml:"keystroke_poll_interval" yaml:"keystroke_poll_interval"`
}

// HostConfig describes the host editor's conventions.
type HostConfig struct {
	// ColumnUnit is how the host counts columns: bytes, codepoints, utf16 or graphemes.
	ColumnUnit string `toml:"column_unit" yaml:"column_unit"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	// File, when set, receives log output instead of stderr.
	File string `toml:"file" yaml:"file"`
}

// RecoveryConfig configures the reconnect policy.
type RecoveryConfig struct {
	MaxAttempts  int      `toml:"max_attempts" yaml:"max_attempts"`
	InitialDelay Duration `toml:"initial_delay" yaml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay" yaml:"max_delay"`
	Multiplier   float64  `toml:"multiplier" yaml:"multiplier"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Command:     "nvim",
			Width:       80,
			Height:      40,
			CallTimeout: Duration(2 * time.Second),
		},
		Sync: SyncConfig{
			ModePoll:              true,
			ModePollInterval:      Duration(50 * time.Millisecond),
			KeystrokePoll:         true,
			KeystrokePollInterval: Duration(33 * time.Millisecond),
		},
		Host: HostConfig{
			ColumnUnit: host.UnitUTF16.String(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Recovery: RecoveryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration(200 * time.Millisecond),
			MaxDelay:     Duration(5 * time.Second),
			Multiplier:   2.0,
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Engine.Address == "" && c.Engine.Command == "" {
		return &ValidationError{Field: "engine.command", Reason: "either command or address is required"}
	}
	if c.Engine.Width <= 0 || c.Engine.Height <= 0 {
		return &ValidationError{Field: "engine.width/height", Reason: "screen size must be positive"}
	}
	if c.Engine.CallTimeout <= 0 {
		return &ValidationError{Field: "engine.call_timeout", Reason: "must be positive"}
	}
	if c.Sync.ModePollInterval <= 0 {
		return &ValidationError{Field: "sync.mode_poll_interval", Reason: "must be positive"}
	}
	if c.Sync.KeystrokePollInterval <= 0 {
		return &ValidationError{Field: "sync.keystroke_poll_interval", Reason: "must be positive"}
	}
	if _, err := host.ParseUnit(c.Host.ColumnUnit); err != nil {
		return &ValidationError{Field: "host.column_unit", Reason: err.Error()}
	}
	if !logging.ValidLevel(c.Log.Level) {
		return &ValidationError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &ValidationError{Field: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	if c.Recovery.MaxAttempts < 1 {
		return &ValidationError{Field: "recovery.max_attempts", Reason: "must be at least 1"}
	}
	if c.Recovery.Multiplier < 1 {
		return &ValidationError{Field: "recovery.multiplier", Reason: "must be at least 1"}
	}
	return nil
}

// ColumnUnit returns the parsed host column unit, falling back to UTF-16.
func (c Config) ColumnUnit() host.Unit {
	u, err := host.ParseUnit(c.Host.ColumnUnit)
	if err != nil {
		return host.UnitUTF16
	}
	return u
}
