package reliability

import (
	"fmt"
	"time"
)

// CircuitOpenError is returned when the breaker rejects a write
type CircuitOpenError struct {
	Name     string
	Failures int
	RetryAt  time.Time
	HalfOpen bool
}

func (e *CircuitOpenError) Error() string {
	if e.HalfOpen {
		return fmt.Sprintf("circuit %s half-open: trial write in progress", e.Name)
	}
	return fmt.Sprintf("circuit %s open after %d failures, retry in %v",
		e.Name, e.Failures, time.Until(e.RetryAt).Round(time.Millisecond))
}

// RetryError is returned when a retry policy gives up
type RetryError struct {
	Op        string
	Attempts  int
	LastError error
	Duration  time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed: %s after %d attempts over %v: %v",
		e.Op, e.Attempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}
