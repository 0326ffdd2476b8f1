// Package recovery decides how hard to try when re-establishing the engine
// session: retry with exponential backoff, and a circuit breaker that
// stops reconnect storms against an engine that keeps failing.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dshills/nvimbridge/internal/logging"
)

// ErrCircuitOpen is returned when recent attempts failed and the cool-down
// has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ExhaustedError is returned when every retry failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Config configures a Policy.
type Config struct {
	// MaxAttempts is the number of tries per Attempt call. Values below 1
	// mean one try.
	MaxAttempts int

	// InitialDelay is the wait after the first failed try.
	InitialDelay time.Duration

	// MaxDelay caps the wait between tries.
	MaxDelay time.Duration

	// Multiplier grows the wait after each failed try.
	Multiplier float64

	// Retryable filters errors worth retrying. Nil retries everything.
	Retryable func(error) bool

	// FailureThreshold is the number of consecutive failed Attempt calls
	// that opens the circuit. Zero disables the breaker.
	FailureThreshold int

	// CoolDown is how long the circuit stays open before one probe is let
	// through.
	CoolDown time.Duration
}

// DefaultConfig returns the default reconnect policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialDelay:     200 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2,
		FailureThreshold: 3,
		CoolDown:         30 * time.Second,
	}
}

// Policy runs operations under retry and circuit-breaker rules.
// It is safe for concurrent use.
type Policy struct {
	cfg     Config
	breaker *Breaker
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *logging.Logger

	attempts atomic.Uint64
	failures atomic.Uint64
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Policy) {
		p.logger = l
	}
}

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

// WithClock sets the clock the circuit breaker measures cool-down with.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		p.breaker.now = now
	}
}

// New creates a Policy.
func New(cfg Config, opts ...Option) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	p := &Policy{
		cfg:     cfg,
		breaker: NewBreaker(cfg.FailureThreshold, cfg.CoolDown),
		sleep:   sleepCtx,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("recovery")
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Attempt runs op until it succeeds, returns a non-retryable error, the
// tries run out, or ctx ends.
func (p *Policy) Attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}

	var lastErr error
	delay := p.cfg.InitialDelay
	for try := 1; try <= p.cfg.MaxAttempts; try++ {
		p.attempts.Add(1)
		err := op(ctx)
		if err == nil {
			p.breaker.Success()
			return nil
		}
		lastErr = err
		p.failures.Add(1)

		if p.cfg.Retryable != nil && !p.cfg.Retryable(err) {
			p.breaker.Failure()
			return fmt.Errorf("non-retryable error: %w", err)
		}
		if try == p.cfg.MaxAttempts {
			break
		}

		p.logger.Warn("attempt %d/%d failed, retrying in %v: %v", try, p.cfg.MaxAttempts, delay, err)
		if err := p.sleep(ctx, delay); err != nil {
			p.breaker.Failure()
			return err
		}
		delay = time.Duration(float64(delay) * p.cfg.Multiplier)
		if p.cfg.MaxDelay > 0 && delay > p.cfg.MaxDelay {
			delay = p.cfg.MaxDelay
		}
	}

	p.breaker.Failure()
	return &ExhaustedError{Attempts: p.cfg.MaxAttempts, Err: lastErr}
}

// Stats holds policy counters.
type Stats struct {
	Attempts uint64
	Failures uint64
	Circuit  State
}

// Stats returns a snapshot of the counters.
func (p *Policy) Stats() Stats {
	return Stats{
		Attempts: p.attempts.Load(),
		Failures: p.failures.Load(),
		Circuit:  p.breaker.State(),
	}
}

// Reset closes the circuit.
func (p *Policy) Reset() {
	p.breaker.Reset()
}
