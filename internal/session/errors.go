package session

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotConnected is returned when a request is made without a client.
	ErrNotConnected = errors.New("session not connected")

	// ErrStopped is returned for requests made after Stop.
	ErrStopped = errors.New("session stopped")

	// ErrUIAttach wraps the engine's refusal to attach the UI. It is fatal
	// to Connect.
	ErrUIAttach = errors.New("ui attach failed")

	// ErrBufferAttached is returned when attaching a buffer while a
	// different one is still attached.
	ErrBufferAttached = errors.New("another buffer is already attached")

	// ErrMalformed is returned by Decode for payloads with an unexpected shape.
	ErrMalformed = errors.New("malformed notification")

	// ErrAttachRefused is returned when the engine answers a buffer attach
	// with false.
	ErrAttachRefused = errors.New("engine refused buffer attach")
)

// CallError records a failed engine request.
type CallError struct {
	Method string
	Err    error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ConnectError is returned when a session cannot be established.
type ConnectError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect (%s): %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// malformed builds an ErrMalformed with detail.
func malformed(method, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, method, fmt.Sprintf(format, args...))
}
