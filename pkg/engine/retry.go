package engine

import (
	"context"
	"time"
)

// RetryConfig bounds a consistency wait.
type RetryConfig struct {
	// Attempts is the maximum number of checks. Defaults to 10.
	Attempts int

	// Interval is the fixed delay between checks. Defaults to one second.
	Interval time.Duration
}

// DefaultRetryConfig returns the wait used for build/deploy style convergence.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 10,
		Interval: time.Second,
	}
}

// WaitUntil calls check until it reports done, an error, or the attempt budget
// is exhausted. Exhaustion yields a *ConsistencyTimeoutError carrying the last
// error check returned, if any. Errors returned by check stop the wait
// immediately unless they are transient according to the classifier.
func WaitUntil(
	ctx context.Context,
	cfg RetryConfig,
	classify Classifier,
	target ConsistencyTarget,
	check func(ctx context.Context) (bool, error),
) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultRetryConfig().Attempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetryConfig().Interval
	}
	if classify == nil {
		classify = ClassifyNone
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		done, err := check(ctx)
		if err == nil && done {
			return nil
		}
		if err != nil {
			if classify(err) != RemoteTransient {
				return err
			}
			lastErr = err
		}

		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-time.After(cfg.Interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &ConsistencyTimeoutError{
		Type:     target.Type,
		Item:     target.Item,
		Attempts: cfg.Attempts,
		Err:      lastErr,
	}
}

// ConsistencyTarget names what a WaitUntil call is waiting on.
type ConsistencyTarget struct {
	Type string
	Item string
}
