// Package resilience provides the retry and error classification policy for
// remote fetches.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and optional jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 5.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 2s.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default: 60s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default: 1.5.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%). Default: 0.
	JitterFraction float64

	// ShouldRetry optionally overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with the attempt that just
	// failed (1-based), the delay about to be slept and the error.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep waits for d or until ctx is done. Nil means a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns the download retry policy: 5 attempts, 1.5x
// exponential backoff from 2s capped at 60s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     1.5,
	}
}

// Do executes fn with retry logic according to cfg. It retries only on
// errors deemed transient (via ShouldRetry or the default IsTransient check).
// Context cancellation stops retries immediately. It returns the number of
// attempts made alongside the last error.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) error) (int, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx, attempt+1)
		if lastErr == nil {
			return attempt + 1, nil
		}

		// Don't retry on context cancellation.
		if ctx.Err() != nil {
			return attempt + 1, lastErr
		}

		// Don't retry non-transient errors.
		if !shouldRetry(lastErr) {
			return attempt + 1, lastErr
		}

		// Don't sleep after the last attempt.
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		delay := computeBackoff(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, lastErr)
		}

		if err := sleep(ctx, delay); err != nil {
			return attempt + 1, lastErr
		}
	}

	return cfg.MaxAttempts, lastErr
}

func timerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1.5
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	// Apply jitter: ±JitterFraction of delay.
	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		jitter := (rand.Float64()*2 - 1) * jitterRange // [-jitterRange, +jitterRange]
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(target string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		fields := []zap.Field{
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		}
		if code := StatusCode(err); code != 0 {
			fields = append(fields, zap.Int("status", code))
		}
		zap.L().Warn("retrying after transient failure", fields...)
	}
}
