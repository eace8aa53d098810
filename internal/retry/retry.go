// Package retry repeats upstream calls with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrExhausted wraps the last error once every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Config shapes the backoff between attempts.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps every delay, jitter included.
	MaxBackoff time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// JitterFraction spreads each delay by up to +/- this fraction.
	JitterFraction float64
}

// DefaultConfig returns the defaults used for upstream API calls made while
// a listener is waiting on the response.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// ErrorClassifier reports whether a failed attempt is worth repeating.
// Errors marked with Permanent never reach it.
type ErrorClassifier func(error) bool

// Permanent marks err so that Do stops at once and returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsRetryable retries everything except context errors and Permanent ones.
func IsRetryable(err error) bool {
	var perm *permanentError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.As(err, &perm):
		return false
	}
	return true
}

// Do calls fn until it succeeds, returns a Permanent error, fails an
// attempt that classify rejects, or runs out of retries. A nil classify
// means IsRetryable.
func Do(ctx context.Context, cfg Config, classify ErrorClassifier, fn func(context.Context) error) error {
	if classify == nil {
		classify = IsRetryable
	}

	delay := cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !classify(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt+1, err)
		}

		if err := sleep(ctx, min(delay+jitter(delay, cfg.JitterFraction), cfg.MaxBackoff)); err != nil {
			return err
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxBackoff)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jitter returns a random offset within +/- fraction of d.
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return 0
	}
	spread := float64(d) * fraction
	return time.Duration((rand.Float64()*2 - 1) * spread)
}
