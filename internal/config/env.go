package config

import (
	"strconv"
	"strings"
)

// EnvPrefix is the prefix shared by every recognized environment variable.
const EnvPrefix = "NVIMBRIDGE_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envSetter func(cfg *Config, value string) error

// envMapping maps environment variables to the setting they override.
var envMapping = map[string]envSetter{
	"NVIMBRIDGE_ENGINE_COMMAND": func(c *Config, v string) error {
		c.Engine.Command = v
		return nil
	},
	"NVIMBRIDGE_ENGINE_ARGS": func(c *Config, v string) error {
		c.Engine.Args = strings.Fields(v)
		return nil
	},
	"NVIMBRIDGE_ENGINE_ADDRESS": func(c *Config, v string) error {
		c.Engine.Address = v
		return nil
	},
	"NVIMBRIDGE_ENGINE_WIDTH":  intSetter(func(c *Config) *int { return &c.Engine.Width }),
	"NVIMBRIDGE_ENGINE_HEIGHT": intSetter(func(c *Config) *int { return &c.Engine.Height }),
	"NVIMBRIDGE_ENGINE_CALL_TIMEOUT": durationSetter(func(c *Config) *Duration {
		return &c.Engine.CallTimeout
	}),
	"NVIMBRIDGE_SYNC_MODE_POLL": boolSetter(func(c *Config) *bool { return &c.Sync.ModePoll }),
	"NVIMBRIDGE_SYNC_MODE_POLL_INTERVAL": durationSetter(func(c *Config) *Duration {
		return &c.Sync.ModePollInterval
	}),
	"NVIMBRIDGE_SYNC_KEYSTROKE_POLL": boolSetter(func(c *Config) *bool { return &c.Sync.KeystrokePoll }),
	"NVIMBRIDGE_SYNC_KEYSTROKE_POLL_INTERVAL": durationSetter(func(c *Config) *Duration {
		return &c.Sync.KeystrokePollInterval
	}),
	"NVIMBRIDGE_HOST_COLUMN_UNIT": func(c *Config, v string) error {
		c.Host.ColumnUnit = v
		return nil
	},
	"NVIMBRIDGE_LOG_LEVEL": func(c *Config, v string) error {
		c.Log.Level = v
		return nil
	},
	"NVIMBRIDGE_LOG_FORMAT": func(c *Config, v string) error {
		c.Log.Format = v
		return nil
	},
	"NVIMBRIDGE_LOG_FILE": func(c *Config, v string) error {
		c.Log.File = v
		return nil
	},
	"NVIMBRIDGE_RECOVERY_MAX_ATTEMPTS": intSetter(func(c *Config) *int { return &c.Recovery.MaxAttempts }),
}

// ApplyEnv overlays recognized environment variables onto cfg.
// Empty values are treated as set.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	for name, set := range envMapping {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := set(cfg, v); err != nil {
			return &EnvError{Var: name, Err: err}
		}
	}
	return nil
}

func intSetter(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolSetter(field func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			*field(c) = true
		case "false", "no", "off", "0":
			*field(c) = false
		default:
			return &strconv.NumError{Func: "ParseBool", Num: v, Err: strconv.ErrSyntax}
		}
		return nil
	}
}

func durationSetter(field func(*Config) *Duration) envSetter {
	return func(c *Config, v string) error {
		return field(c).UnmarshalText([]byte(v))
	}
}
