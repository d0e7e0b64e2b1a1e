package resilience

import (
	"time"
)

// FromConfig builds the download RetryConfig from millisecond config values.
// Zero or out-of-range values keep the defaults.
func FromConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier >= 1 {
		cfg.Multiplier = multiplier
	}
	return cfg
}
