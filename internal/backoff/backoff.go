// Package backoff retries operations with capped exponential delay and optional jitter.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 10 * time.Second
	maxJitter        = time.Second
)

// ErrExhaustedRetries matches any ExhaustedError.
var ErrExhaustedRetries = errors.New("retries exhausted")

// ExhaustedError is returned when every attempt failed. It unwraps to the
// last attempt's error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhaustedRetries, e.Last}
}

// Config holds the retry budget.
type Config struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
}

// Policy executes operations under a retry budget. A Policy holds no
// per-call state, so one instance can serve concurrent callers.
type Policy struct {
	cfg        Config
	retryable  func(error) bool
	retryAfter func(error) time.Duration
	jitter     func() time.Duration
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
	name       string
}

// Option configures a Policy.
type Option func(*Policy)

// WithRetryable stops retrying as soon as fn returns false for an error.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		p.retryable = fn
	}
}

// WithRetryAfter lets an error demand a minimum wait before the next attempt.
func WithRetryAfter(fn func(error) time.Duration) Option {
	return func(p *Policy) {
		p.retryAfter = fn
	}
}

// WithJitterSource replaces the random jitter addend.
func WithJitterSource(fn func() time.Duration) Option {
	return func(p *Policy) {
		if fn != nil {
			p.jitter = fn
		}
	}
}

// WithSleep replaces the context-aware sleep, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Policy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// WithLogger sets the logger and a name used in log lines.
func WithLogger(logger *slog.Logger, name string) Option {
	return func(p *Policy) {
		if logger != nil {
			p.logger = logger
		}
		p.name = name
	}
}

// New creates a Policy. Zero config fields fall back to defaults.
func New(cfg Config, opts ...Option) *Policy {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	p := &Policy{
		cfg:    cfg,
		jitter: randomJitter,
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attempts returns the configured attempt budget.
func (p *Policy) Attempts() int {
	return p.cfg.Attempts
}

// Delay returns the wait after the given failed attempt (1-based), without jitter.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	return min(delay, p.cfg.MaxDelay)
}

// Execute runs op until it succeeds, a non-retryable error occurs, or the
// attempt budget runs out. The attempt counter lives on this call's stack.
func (p *Policy) Execute(ctx context.Context, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		if p.retryable != nil && !p.retryable(err) {
			return err
		}
		if attempt >= p.cfg.Attempts {
			return &ExhaustedError{Attempts: attempt, Last: err}
		}

		delay := p.Delay(attempt)
		if p.cfg.Jitter {
			delay += p.jitter()
		}
		if p.retryAfter != nil {
			if ra := p.retryAfter(err); ra > delay {
				delay = ra
			}
		}

		p.logger.Debug("Retrying after failure", "name", p.name, "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("retry wait interrupted after attempt %d: %w", attempt, errors.Join(sleepErr, err))
		}
	}
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, p *Policy, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func randomJitter() time.Duration {
	//nolint:gosec // jitter does not need a cryptographic source
	return time.Duration(rand.Int64N(int64(maxJitter) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
