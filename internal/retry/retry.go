package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/oshokin/composite-installer/internal/logger"
)

const (
	// DefaultMaxAttempts bounds how many times an operation is tried in total.
	DefaultMaxAttempts = 4

	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps the exponential growth of retry delays.
	DefaultMaxDelay = 15 * time.Second

	// defaultJitterFraction is the share of the delay randomized per attempt.
	defaultJitterFraction = 0.25
)

// Transient marks errors that are worth retrying.
// Error types implement it to opt in to retries.
type Transient interface {
	Transient() bool
}

// DelayHinter lets an error suggest the wait before the next attempt,
// e.g. a rate-limit response carrying Retry-After.
type DelayHinter interface {
	RetryDelay() time.Duration
}

// Policy describes the bounded-attempt backoff state machine.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// BaseDelay is the wait before the first retry; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Jitter is the fraction of the delay randomized to spread retries.
	Jitter float64
	// Sleep waits for the given duration or until the context is done.
	// Overridable in tests; defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, 1) used for jitter.
	// Overridable in tests; defaults to math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns the retry policy used by the pipeline's network calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      defaultJitterFraction,
	}
}

// Do runs the operation until it succeeds, fails permanently, exhausts the
// attempt budget, or the context is canceled. The last error is returned.
func (p Policy) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	random := p.Rand
	if random == nil {
		random = rand.Float64
	}

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}

		if !IsTransient(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		delay := p.delay(attempt, lastErr, random)
		logger.DebugKV(ctx, "Retrying after transient failure",
			"attempt", attempt, "delay", delay, "error", lastErr)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// delay computes the wait before the next attempt: exponential growth with
// jitter, overridden by an explicit hint from the error when one is present.
func (p Policy) delay(attempt int, err error, random func() float64) time.Duration {
	var hinter DelayHinter
	if errors.As(err, &hinter) {
		if hint := hinter.RetryDelay(); hint > 0 {
			return hint
		}
	}

	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	delay := base << (attempt - 1)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	jitter := p.Jitter
	if jitter > 0 {
		// Spread the delay in [delay*(1-jitter), delay*(1+jitter)].
		spread := 1 + jitter*(2*random()-1)
		delay = time.Duration(float64(delay) * spread)
	}

	return delay
}

// IsTransient reports whether the error opts in to retries.
func IsTransient(err error) bool {
	var transient Transient
	if errors.As(err, &transient) {
		return transient.Transient()
	}

	return false
}

// sleepWithContext waits for the duration, returning early if ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
