package retry

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrAttemptsExceeded = errors.New("retry attempts exceeded")
	ErrContextCanceled  = errors.New("context canceled during retry")
)

// Config contains retry configuration
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int
	// Interval is the fixed wait between attempts
	Interval time.Duration
}

// StoreConfig returns the retry profile used around key-value store
// transactions: five attempts half a second apart. Optimistic-lock
// conflicts and transient store errors share this bound.
func StoreConfig() *Config {
	return &Config{
		MaxAttempts: 5,
		Interval:    500 * time.Millisecond,
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// RetryableError wraps an error indicating it should be retried
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable marks an error as retryable
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// PermanentError wraps an error indicating it should NOT be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as permanent (not retryable)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Retrier executes operations with a bounded fixed-interval retry loop.
type Retrier struct {
	config *Config
}

// New creates a new Retrier with the given configuration
func New(config *Config) *Retrier {
	if config == nil {
		config = StoreConfig()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Interval < 0 {
		config.Interval = 0
	}
	return &Retrier{config: config}
}

// Do executes the operation until it succeeds, returns a permanent error,
// the attempt budget runs out, or the context is canceled. On exhaustion it
// returns ErrAttemptsExceeded joined with the last attempt's error.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return errors.Join(ErrContextCanceled, lastErr)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var permErr *PermanentError
		if errors.As(err, &permErr) {
			return permErr.Err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(ErrContextCanceled, lastErr)
		case <-time.After(r.config.Interval):
		}
	}

	return errors.Join(ErrAttemptsExceeded, lastErr)
}

// Do is a convenience function that creates a retrier and executes the operation
func Do(ctx context.Context, config *Config, op Operation) error {
	return New(config).Do(ctx, op)
}
