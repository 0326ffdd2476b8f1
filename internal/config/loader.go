package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileSystem abstracts file reads for testing.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
}

type osFS struct{}

func (osFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// DefaultFS returns a FileSystem backed by the operating system.
func DefaultFS() FileSystem { return osFS{} }

// Load returns defaults overlaid with the file at path (if non-empty and
// present) and the process environment, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(DefaultFS(), path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes the file at path over cfg. Keys missing from the file keep
// their current values. A missing file is not an error.
func LoadFile(fsys FileSystem, path string, cfg *Config) error {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Decode(path, data, cfg)
}

// Decode parses data in the format implied by name's extension.
func Decode(name string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", "":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return &ParseError{Path: name, Message: err.Error(), Err: err}
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return &ParseError{Path: name, Message: err.Error(), Err: err}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	return nil
}

// DefaultPath returns the conventional config file location.
// Resolution order: $NVIMBRIDGE_CONFIG > $XDG_CONFIG_HOME/nvimbridge/config.toml
// > ~/.config/nvimbridge/config.toml.
func DefaultPath() string {
	if p := os.Getenv("NVIMBRIDGE_CONFIG"); p != "" {
		return p
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "nvimbridge", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nvimbridge", "config.toml")
}
