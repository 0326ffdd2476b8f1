package config

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type mapFS map[string]string

func (m mapFS) ReadFile(name string) ([]byte, error) {
	s, ok := m[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return []byte(s), nil
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Sync.ModePollInterval.Std() != 50*time.Millisecond {
		t.Errorf("mode poll interval = %v, want 50ms", cfg.Sync.ModePollInterval)
	}
	if cfg.Sync.KeystrokePollInterval.Std() != 33*time.Millisecond {
		t.Errorf("keystroke poll interval = %v, want 33ms", cfg.Sync.KeystrokePollInterval)
	}
}

func TestLoadFile_TOML(t *testing.T) {
	fsys := mapFS{"bridge.toml": `
[engine]
command = "/usr/local/bin/nvim"
args = ["--clean"]
width = 120

[sync]
keystroke_poll = false
mode_poll_interval = "75ms"

[host]
column_unit = "codepoints"
`}

	cfg := Default()
	if err := LoadFile(fsys, "bridge.toml", &cfg); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	want := Default()
	want.Engine.Command = "/usr/local/bin/nvim"
	want.Engine.Args = []string{"--clean"}
	want.Engine.Width = 120
	want.Sync.KeystrokePoll = false
	want.Sync.ModePollInterval = Duration(75 * time.Millisecond)
	want.Host.ColumnUnit = "codepoints"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	fsys := mapFS{"bridge.yaml": `
engine:
  address: /tmp/nvim.sock
log:
  level: debug
  format: json
recovery:
  max_attempts: 5
  initial_delay: 1s
`}

	cfg := Default()
	if err := LoadFile(fsys, "bridge.yaml", &cfg); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Engine.Address != "/tmp/nvim.sock" {
		t.Errorf("address = %q", cfg.Engine.Address)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Recovery.MaxAttempts != 5 || cfg.Recovery.InitialDelay.Std() != time.Second {
		t.Errorf("recovery = %+v", cfg.Recovery)
	}
	if cfg.Engine.Command != "nvim" {
		t.Errorf("unset key lost its default: command = %q", cfg.Engine.Command)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	cfg := Default()
	if err := LoadFile(mapFS{}, "absent.toml", &cfg); err != nil {
		t.Errorf("missing file should not error, got %v", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	cfg := Default()

	err := Decode("bad.toml", []byte("[engine\ncommand="), &cfg)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Errorf("Decode(bad toml) = %v, want *ParseError", err)
	}

	err = Decode("unknown.toml", []byte("[engine]\nbogus = 1\n"), &cfg)
	if !errors.As(err, &perr) {
		t.Errorf("Decode(unknown field) = %v, want *ParseError", err)
	}

	err = Decode("conf.ini", nil, &cfg)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Decode(.ini) = %v, want ErrUnsupportedFormat", err)
	}

	err = Decode("dur.toml", []byte("[sync]\nmode_poll_interval = \"soon\"\n"), &cfg)
	if err == nil {
		t.Error("Decode(invalid duration) succeeded")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"NVIMBRIDGE_ENGINE_ADDRESS":               "127.0.0.1:6666",
		"NVIMBRIDGE_SYNC_MODE_POLL":               "off",
		"NVIMBRIDGE_SYNC_KEYSTROKE_POLL_INTERVAL": "10ms",
		"NVIMBRIDGE_ENGINE_ARGS":                  "--clean -n",
		"NVIMBRIDGE_LOG_LEVEL":                    "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := ApplyEnv(&cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Engine.Address != "127.0.0.1:6666" {
		t.Errorf("address = %q", cfg.Engine.Address)
	}
	if cfg.Sync.ModePoll {
		t.Error("mode poll still enabled")
	}
	if cfg.Sync.KeystrokePollInterval.Std() != 10*time.Millisecond {
		t.Errorf("keystroke interval = %v", cfg.Sync.KeystrokePollInterval)
	}
	if diff := cmp.Diff([]string{"--clean", "-n"}, cfg.Engine.Args); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "NVIMBRIDGE_ENGINE_WIDTH" {
			return "wide", true
		}
		return "", false
	}
	cfg := Default()
	err := ApplyEnv(&cfg, lookup)
	var envErr *EnvError
	if !errors.As(err, &envErr) || envErr.Var != "NVIMBRIDGE_ENGINE_WIDTH" {
		t.Errorf("ApplyEnv() = %v, want EnvError for width", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no engine", func(c *Config) { c.Engine.Command = ""; c.Engine.Address = "" }, "engine.command"},
		{"zero width", func(c *Config) { c.Engine.Width = 0 }, "engine.width/height"},
		{"zero mode interval", func(c *Config) { c.Sync.ModePollInterval = 0 }, "sync.mode_poll_interval"},
		{"zero keystroke interval", func(c *Config) { c.Sync.KeystrokePollInterval = 0 }, "sync.keystroke_poll_interval"},
		{"bad unit", func(c *Config) { c.Host.ColumnUnit = "furlongs" }, "host.column_unit"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no attempts", func(c *Config) { c.Recovery.MaxAttempts = 0 }, "recovery.max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}
