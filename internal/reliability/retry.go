package reliability

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether a failed sink write is attempted again
type RetryPolicy interface {
	// Next returns the delay before attempt+1, or false to give up
	Next(attempt int, err error) (time.Duration, bool)
}

// Backoff retries with exponentially growing delays
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
	Jitter      bool
}

// NewBackoff creates an exponential backoff with jitter
func NewBackoff(initial, max time.Duration, maxAttempts int) *Backoff {
	return &Backoff{
		Initial:     initial,
		Max:         max,
		Multiplier:  2.0,
		MaxAttempts: maxAttempts,
		Jitter:      true,
	}
}

// Next implements RetryPolicy
func (b *Backoff) Next(attempt int, err error) (time.Duration, bool) {
	if attempt >= b.MaxAttempts || !IsRetryable(err) {
		return 0, false
	}
	return b.Delay(attempt), true
}

// Delay returns the wait before the attempt after the given one
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// ±15%
	if b.Jitter {
		delay = delay*0.85 + rand.Float64()*0.3*delay
	}

	return time.Duration(delay)
}

// Fixed retries with a constant delay
type Fixed struct {
	Interval    time.Duration
	MaxAttempts int
}

// Next implements RetryPolicy
func (f Fixed) Next(attempt int, err error) (time.Duration, bool) {
	if attempt >= f.MaxAttempts || !IsRetryable(err) {
		return 0, false
	}
	return f.Interval, true
}

// NoRetry never retries
var NoRetry RetryPolicy = Fixed{}

// Retry runs fn until it succeeds, the policy gives up or ctx ends
func Retry(ctx context.Context, op string, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy == nil {
		policy = NoRetry
	}
	started := time.Now()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		delay, again := policy.Next(attempt, err)
		if !again {
			if attempt == 0 {
				return err
			}
			return &RetryError{Op: op, Attempts: attempt + 1, LastError: err, Duration: time.Since(started)}
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// permanentError marks an error that must not be retried
type permanentError struct {
	err error
}

func (p *permanentError) Error() string {
	return p.err.Error()
}

func (p *permanentError) Unwrap() error {
	return p.err
}

// Permanent wraps err so that retry policies give up on it
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether err may succeed on a later attempt
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// an open breaker clears after its cooldown
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return true
	}

	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	return true
}
