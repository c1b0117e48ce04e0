// Package retry retries operations that fail transiently, with exponential
// backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config defines the retry behavior. MaxRetries and InitialBackoff must be
// positive.
type Config struct {
	// MaxRetries is the maximum number of attempts.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt. Each later wait
	// doubles.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration
}

// ShouldRetryFunc reports whether err is worth another attempt. A nil
// ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, returns an error shouldRetry rejects, or
// cfg.MaxRetries attempts have failed. The last error is wrapped. Cancelling
// ctx during a wait returns the context error.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(Backoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// Backoff returns the wait before attempt (counting from 0):
// InitialBackoff * 2^(attempt-1), capped at MaxBackoff.
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return backoff
}
