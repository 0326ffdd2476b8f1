package config

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned for config files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// ValidationError describes an invalid setting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// EnvError reports an environment variable that could not be applied.
type EnvError struct {
	Var string
	Err error
}

func (e *EnvError) Error() string {
	return fmt.Sprintf("environment %s: %v", e.Var, e.Err)
}

func (e *EnvError) Unwrap() error {
	return e.Err
}
